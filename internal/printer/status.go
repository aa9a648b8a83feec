package printer

import "time"

const (
	statusCommand        = "\x1b!?"
	statusResponseLength = 4
)

var printerStateMap = map[byte]string{
	'@': "normal",
	'F': "feeding",
	'P': "paused",
	'E': "error",
	'H': "head_open",
	'S': "standby",
	'L': "label_waiting",
	'I': "idle",
}

var warningMap = map[byte]string{
	'@': "none",
	'A': "paper_low",
	'B': "ribbon_low",
	'C': "paper_and_ribbon_low",
}

var errorMap = map[byte]string{
	'@': "none",
	'A': "head_overheat",
	'B': "motor_overheat",
	'C': "head_and_motor_overheat",
	'D': "head_error",
	'E': "cutter_error",
	'F': "rtc_error",
}

var mediaErrorMap = map[byte]string{
	'@': "none",
	'A': "paper_empty",
	'B': "ribbon_empty",
	'C': "paper_and_ribbon_empty",
	'D': "takeup_reel_full",
	'`': "head_open",
}

const (
	StatusUnknown = "unknown"
	StatusOnline  = "online"
	StatusOffline = "offline"
	StatusError   = "error"
	StatusPaused  = "paused"
	StatusBusy    = "busy"
)

// PrinterStatus is the decoded answer to the ESC ! ? status query.
type PrinterStatus struct {
	IsOnline     bool      `json:"is_online"`
	CanPrint     bool      `json:"can_print"`
	PrinterState string    `json:"printer_state"`
	Warning      string    `json:"warning"`
	Error        string    `json:"error"`
	MediaError   string    `json:"media_error"`
	RawStatus    [4]byte   `json:"-"`
	LastChecked  time.Time `json:"last_checked"`
}

func lookup(m map[byte]string, b byte) string {
	if v, ok := m[b]; ok {
		return v
	}
	return StatusUnknown
}

func parseStatus(response []byte) *PrinterStatus {
	status := &PrinterStatus{
		RawStatus:    [4]byte{response[0], response[1], response[2], response[3]},
		PrinterState: lookup(printerStateMap, response[0]),
		Warning:      lookup(warningMap, response[1]),
		Error:        lookup(errorMap, response[2]),
		MediaError:   lookup(mediaErrorMap, response[3]),
		IsOnline:     true,
	}
	switch status.PrinterState {
	case "normal", "standby", "idle":
		status.CanPrint = status.Error == "none" && status.MediaError == "none"
	}
	return status
}

func statusString(status *PrinterStatus) string {
	switch {
	case !status.IsOnline:
		return StatusOffline
	case status.PrinterState == "error" || status.Error != "none":
		return StatusError
	case status.PrinterState == "paused":
		return StatusPaused
	case status.MediaError != "none":
		return StatusError
	case status.PrinterState == "feeding":
		return StatusBusy
	default:
		return StatusOnline
	}
}
