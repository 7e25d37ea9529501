// Package transport turns encoded access units into an RTP stream sent over
// UDP to a media router, and reads the RTCP feedback that comes back.
//
// Packetization follows RFC 6184 in non-interleaved mode: small NAL units
// are aggregated into STAP-A packets, oversized ones are split into FU-A
// fragments, and the marker bit is set only on the last packet of an access
// unit. Sender reports, receive statistics and optional NACK retransmission
// are provided by a pion interceptor chain.
package transport
