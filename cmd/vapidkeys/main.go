// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

// Command vapidkeys generates a VAPID key pair for direct Web Push and prints
// it as environment variable assignments.
//
//	go run ./cmd/vapidkeys -subscriber mailto:webmaster@club.example >> .env
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	webpush "github.com/SherClockHolmes/webpush-go"
)

func main() {
	subscriber := flag.String("subscriber", "", "contact URI for push services (mailto: or https:)")
	flag.Parse()

	if err := writeKeys(os.Stdout, *subscriber); err != nil {
		fmt.Fprintf(os.Stderr, "vapidkeys: %v\n", err)
		os.Exit(1)
	}
}

func writeKeys(w io.Writer, subscriber string) error {
	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return fmt.Errorf("generate VAPID keys: %w", err)
	}
	if _, err := fmt.Fprintf(w, "VAPID_PUBLIC_KEY=%s\nVAPID_PRIVATE_KEY=%s\n", publicKey, privateKey); err != nil {
		return err
	}
	if subscriber != "" {
		_, err = fmt.Fprintf(w, "VAPID_SUBSCRIBER=%s\n", subscriber)
	}
	return err
}
