package main

// qr.go prints the access URLs, optionally as a terminal QR code so a phone
// camera can open the dashboard directly.

import (
	"fmt"
	"io"

	"github.com/skip2/go-qrcode"

	"github.com/shrijayan/itwillsync/internal/config"
)

// printAccessInfo shows where to point the phone. With a hub, that's the
// dashboard URL (one QR for every session); standalone, it's the direct
// session URL.
func printAccessInfo(w io.Writer, mode config.NetworkingMode, sessionPort int, sessionToken string, hubOK bool, noQR bool) {
	ip := accessIP(mode)

	url := fmt.Sprintf("http://%s:%d?token=%s", ip, sessionPort, sessionToken)
	label := "Session"
	if hubOK {
		if state, err := config.ReadHubState(); err == nil {
			url = fmt.Sprintf("http://%s:%d?token=%s", ip, state.ExternalPort, state.MasterToken)
			label = "Dashboard"
		}
	}

	fmt.Fprintln(w)
	if !noQR {
		displayQR(w, url)
	}
	fmt.Fprintf(w, "  %s: %s\n\n", label, url)
}

// displayQR renders the URL as half-block QR art. Failures fall back to the
// plain URL the caller prints anyway.
func displayQR(w io.Writer, url string) {
	qr, err := qrcode.New(url, qrcode.Medium)
	if err != nil {
		fmt.Fprintf(w, "  (QR unavailable: %v)\n", err)
		return
	}
	fmt.Fprint(w, qr.ToSmallString(false))
}
