package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func main() {
	var secret, sub string
	var ttl time.Duration
	flag.StringVar(&secret, "secret", os.Getenv("RECORDER_HMAC_SECRET"), "HS256 secret (defaults to RECORDER_HMAC_SECRET)")
	flag.StringVar(&sub, "sub", "sender", "subject claim")
	flag.DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if secret == "" {
		fmt.Fprintln(os.Stderr, "token: -secret or RECORDER_HMAC_SECRET is required")
		os.Exit(2)
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   sub,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte(secret))
	if err != nil {
		fmt.Fprintln(os.Stderr, "token:", err)
		os.Exit(1)
	}
	fmt.Println(s)
}
