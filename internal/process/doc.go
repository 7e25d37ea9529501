// Package process runs media subprocesses connected through pipes.
//
// A Pipe owns one subprocess for its whole life:
//   - stdin and/or stdout are exposed as pipes for raw media
//   - stderr lines are re-logged at the level a LogParser extracts
//   - Stop closes stdin, sends SIGINT and force kills after a timeout
//   - Done/Err report how the process ended
//
// Example:
//
//	p, err := process.Start(ctx, "encoder", "ffmpeg", args,
//		process.WithStdin(),
//		process.WithStdout(),
//		process.WithLogParser(logger, ffmpeg.ParseLogLevel),
//	)
//	if err != nil {
//		return err
//	}
//	defer p.Stop()
package process
