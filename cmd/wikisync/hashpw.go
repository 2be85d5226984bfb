package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/alexjbarnes/wikisync/internal/auth"
	"github.com/spf13/cobra"
)

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Print a bcrypt hash for WIKISYNC_AUTH_USERS",
		Long: `Read a password from stdin and print its bcrypt hash.

Use the output as the hash half of a user:hash pair in WIKISYNC_AUTH_USERS.`,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return hashPassword(cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

func hashPassword(in io.Reader, out, prompt io.Writer) error {
	fmt.Fprint(prompt, "Enter password: ")

	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("reading password: %w", err)
		}

		return fmt.Errorf("no input")
	}

	password := strings.TrimRight(scanner.Text(), "\r")
	if password == "" {
		return fmt.Errorf("password must not be empty")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	fmt.Fprintln(out, hash)

	return nil
}
