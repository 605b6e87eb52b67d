// Command chattoken mints a signed token for local development and load
// testing.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/whisper/roomchat/internal/auth"
)

func main() {
	defaults := auth.DefaultConfig()
	if v := os.Getenv("JWT_SECRET"); v != "" {
		defaults.Secret = v
	}

	id := flag.String("id", "", "user id (required)")
	username := flag.String("username", "", "display name (required)")
	secret := flag.String("secret", defaults.Secret, "HMAC secret, defaults to $JWT_SECRET")
	issuer := flag.String("issuer", os.Getenv("JWT_ISSUER"), "iss claim")
	ttl := flag.Duration("ttl", defaults.TTL, "token lifetime")
	flag.Parse()

	if *id == "" || *username == "" {
		fmt.Fprintln(os.Stderr, "usage: chattoken -id <user id> -username <name> [-ttl 24h]")
		os.Exit(2)
	}

	v := auth.NewVerifier(auth.Config{Secret: *secret, Issuer: *issuer, TTL: *ttl})
	token, err := v.Issue(auth.Identity{ID: *id, Username: *username})
	if err != nil {
		fmt.Fprintf(os.Stderr, "chattoken: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)

	if *secret == auth.DevSecret {
		fmt.Fprintf(os.Stderr, "warning: signed with the development secret, expires %s\n",
			time.Now().Add(*ttl).Format(time.RFC3339))
	}
}
