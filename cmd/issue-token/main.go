package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/engine"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/service"
	"golang.org/x/term"
)

// issue-token mints a JWT for local testing. The identity provider issues
// real tokens in production.
func main() {
	var (
		userID    string
		name      string
		admin     bool
		perms     string
		askSecret bool
	)
	flag.StringVar(&userID, "user", "", "User ID placed in the token (required)")
	flag.StringVar(&name, "name", "", "Display name placed in the token")
	flag.BoolVar(&admin, "admin", false, "Issue an admin token instead of a student token")
	flag.StringVar(&perms, "perms", "", "Comma-separated admin permissions (default: all)")
	flag.BoolVar(&askSecret, "ask-secret", false, "Read the signing secret from the terminal instead of JWT_SECRET")
	flag.Parse()

	if userID == "" {
		fmt.Fprintln(os.Stderr, "Error: -user is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Load()

	if askSecret {
		if !term.IsTerminal(int(syscall.Stdin)) {
			fmt.Fprintln(os.Stderr, "Error: -ask-secret needs an interactive terminal")
			os.Exit(1)
		}
		fmt.Fprint(os.Stderr, "Enter JWT secret: ")
		secret, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error reading secret")
			os.Exit(1)
		}
		cfg.JWTSecret = string(secret)
	}
	if len(cfg.JWTSecret) < 16 {
		fmt.Fprintln(os.Stderr, "Error: secret must be at least 16 characters")
		os.Exit(1)
	}

	tokenType := service.TokenTypeStudent
	var permissions []string
	if admin {
		tokenType = service.TokenTypeAdmin
		permissions = []string{string(model.PermissionAttemptsRead), string(model.PermissionExamsCache)}
		if perms != "" {
			permissions = strings.Split(perms, ",")
		}
	}

	token, err := service.NewAuthService(cfg).IssueToken(tokenType, engine.Identity{ID: userID, Name: name}, permissions)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error issuing token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
