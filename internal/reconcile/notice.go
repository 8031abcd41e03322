package reconcile

import (
	"errors"
	"fmt"
)

func describeResult(res Result) (string, []string) {
	details := []string{
		fmt.Sprintf("AI Headcount: %d person(s)", res.Detected),
		fmt.Sprintf("Scanned Count: %d scan(s)", res.Scanned),
	}
	if res.Status == StatusMismatch {
		details = append(details,
			fmt.Sprintf("Difference: %d", res.Difference),
			"Mismatch detected: the number of people detected does not match the number of QR code scans. This may indicate proxy attendance.",
		)
		return "Proxy Suspected", details
	}
	details = append(details,
		"Verification successful: the AI headcount matches the scanned attendance count. No proxy attendance detected.",
	)
	return "Attendance Verified", details
}

func describeFailure(err error) (string, []string) {
	var detErr *DetectionError
	switch {
	case errors.Is(err, ErrNoActiveSession):
		return "No Active Class", []string{"Please wait for a class to be active before running AI headcount."}
	case errors.Is(err, ErrNoImageProvided):
		return "No Image Selected", []string{"Please select a classroom photo first."}
	case errors.Is(err, ErrStatsUnavailable):
		return "Attendance Stats Unavailable", []string{"Could not load the scanned attendance count: " + err.Error()}
	case errors.As(err, &detErr):
		msg := detErr.Message
		if msg == "" {
			msg = "Unable to process image with AI."
		}
		return "AI Detection Failed", []string{msg}
	default:
		return "Error", []string{"Failed to run AI headcount: " + err.Error()}
	}
}
