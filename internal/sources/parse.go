package sources

import (
	"bufio"
	"bytes"
	"regexp"
	"strconv"
	"strings"
)

// " 0: +*eDP-1 1920/344x1080/193+0+0  eDP-1"
var monitorLine = regexp.MustCompile(`^\s*\d+:\s+\+?(\*?)(\S+)\s+(\d+)/\d+x(\d+)/\d+\+(-?\d+)\+(-?\d+)`)

// parseMonitors reads `xrandr --listactivemonitors`.
func parseMonitors(out []byte) []Source {
	var list []Source
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		m := monitorLine.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		w, _ := strconv.Atoi(m[3])
		h, _ := strconv.Atoi(m[4])
		x, _ := strconv.Atoi(m[5])
		y, _ := strconv.Atoi(m[6])
		list = append(list, Source{
			ID:      monitorID(m[2]),
			Kind:    KindMonitor,
			Title:   m[2],
			Width:   w,
			Height:  h,
			X:       x,
			Y:       y,
			Primary: m[1] == "*",
		})
	}
	return list
}

// window is one row of `wmctrl -lpG`.
type window struct {
	id      string
	desktop int
	pid     int
	x, y    int
	w, h    int
	title   string
}

// parseWindows reads `wmctrl -lpG`:
// "0x03a00007  0 12345  0    0    1920 1080 host Title words".
// Rows that do not parse are skipped.
func parseWindows(out []byte) []window {
	var list []window
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 8 || !strings.HasPrefix(fields[0], "0x") {
			continue
		}
		var nums [6]int
		ok := true
		for i := range nums {
			n, err := strconv.Atoi(fields[i+1])
			if err != nil {
				ok = false
				break
			}
			nums[i] = n
		}
		if !ok {
			continue
		}
		list = append(list, window{
			id:      fields[0],
			desktop: nums[0],
			pid:     nums[1],
			x:       nums[2],
			y:       nums[3],
			w:       nums[4],
			h:       nums[5],
			title:   strings.Join(fields[8:], " "),
		})
	}
	return list
}
