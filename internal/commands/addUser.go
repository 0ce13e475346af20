package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"komnata/internal/api"
	"komnata/internal/config"
)

// ParseAddUser splits the "email:username" argument of -add-user.
func ParseAddUser(arg string) (api.AddUserRequest, error) {
	email, username, ok := strings.Cut(arg, ":")
	email, username = strings.TrimSpace(email), strings.TrimSpace(username)
	if !ok || email == "" || username == "" {
		return api.AddUserRequest{}, fmt.Errorf("expected email:username, got %q", arg)
	}
	return api.AddUserRequest{Email: email, Username: username}, nil
}

func AddUser(arg string, cfg *config.Config) error {
	req, err := ParseAddUser(arg)
	if err != nil {
		return err
	}

	reqBody, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("http://%s/admin/users", cfg.AdminAddr)
	resp, err := http.Post(url, "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to call admin API: %w. Is the server running?", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to add user (Status: %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result api.AddUserResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("\nUser Created Successfully!\n")
	fmt.Printf("Email:     %s\n", result.Email)
	fmt.Printf("Username:  %s\n", result.Username)
	fmt.Printf("Password:  %s\n", result.Password)
	fmt.Printf("Sign in:   %s\n\n", result.LoginURL)
	fmt.Println("Please share these credentials with the user over a private channel.")
	return nil
}
