// Command relay_walkthrough drives a local gigdesk end to end: it mails a
// booking inquiry and a follow-up into the SMTP relay, triggers a sync
// through the cron endpoint and prints the resulting threads.
//
// Start gigdesk with RELAY_ENABLED=true, a relay inbox for
// bookings@gigdesk.dev and CRON_SECRET set, then issue an admin token with
// `gigdesk token you@example.com --role admin`.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

type threadsResponse struct {
	Threads []struct {
		ID          string `json:"id"`
		Subject     string `json:"subject"`
		Counterpart string `json:"counterpart"`
		BookingID   string `json:"bookingId"`
	} `json:"threads"`
}

func main() {
	baseURL := getenvDefault("GIGDESK_URL", "http://localhost:3025")
	relayAddr := getenvDefault("GIGDESK_RELAY", "localhost:2025")
	relayUser := getenvDefault("RELAY_USERNAME", "gigdesk")
	relayPass := os.Getenv("RELAY_PASSWORD")
	cronSecret := os.Getenv("CRON_SECRET")
	adminToken := os.Getenv("GIGDESK_TOKEN")

	inbox := "bookings@gigdesk.dev"
	planner := "planner@example.com"
	rootID := fmt.Sprintf("walkthrough-%d@example.com", time.Now().UnixNano())

	var auth sasl.Client
	if relayPass != "" {
		auth = sasl.NewPlainClient("", relayUser, relayPass)
	}

	fmt.Println("Sending inquiry and follow-up...")
	send(relayAddr, auth, planner, inbox, rootID, "", "Wedding on 12 June",
		"Hi, are you free for a wedding on 12 June in Lisbon?")
	send(relayAddr, auth, planner, inbox, "followup-"+rootID, rootID, "Re: Wedding on 12 June",
		"Forgot to mention: about 120 guests.")

	fmt.Println("Triggering sync...")
	req, _ := http.NewRequest(http.MethodPost, baseURL+"/api/cron/sync", nil)
	req.Header.Set("Authorization", "Bearer "+cronSecret)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fail(err)
	}
	resp.Body.Close()
	fmt.Println("sync status:", resp.Status)

	if adminToken == "" {
		fmt.Println("GIGDESK_TOKEN not set; skipping thread listing")
		return
	}
	req, _ = http.NewRequest(http.MethodGet, baseURL+"/api/threads?q="+planner, nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		fail(err)
	}
	defer resp.Body.Close()

	var threads threadsResponse
	if err := json.NewDecoder(resp.Body).Decode(&threads); err != nil {
		fail(err)
	}
	for _, t := range threads.Threads {
		fmt.Printf("- %s %q with %s booking=%s\n", t.ID, t.Subject, t.Counterpart, t.BookingID)
	}
}

func send(addr string, auth sasl.Client, from, to, messageID, inReplyTo, subject, body string) {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Message-ID: <%s>\r\n", messageID)
	if inReplyTo != "" {
		fmt.Fprintf(&b, "In-Reply-To: <%s>\r\n", inReplyTo)
		fmt.Fprintf(&b, "References: <%s>\r\n", inReplyTo)
	}
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(body + "\r\n")

	if err := smtp.SendMail(addr, auth, from, []string{to}, strings.NewReader(b.String())); err != nil {
		fail(err)
	}
}

func getenvDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
