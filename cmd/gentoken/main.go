// gentoken mints a Firebase ID token for a given uid, for calling the
// send endpoint from curl during development. Requires a service
// account key file and the project's web API key.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"

	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
)

const exchangeURL = "https://identitytoolkit.googleapis.com/v1/accounts:signInWithCustomToken?key=%s"

type signInResponse struct {
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
	LocalID      string `json:"localId"`
}

func main() {
	ctx := context.Background()
	uid := flag.String("uid", "", "user uid to mint a token for")
	apiKey := flag.String("apikey", "", "Firebase web API key")
	keyFile := flag.String("key", "./service_account_key.json", "service account key file")
	flag.Parse()

	if *uid == "" || *apiKey == "" {
		log.Fatal("both -uid and -apikey are required")
	}

	absPath, err := filepath.Abs(*keyFile)
	if err != nil {
		log.Fatalf("failed to resolve key file path: %v", err)
	}
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(absPath))
	if err != nil {
		log.Fatalf("error initializing app: %v", err)
	}

	client, err := app.Auth(ctx)
	if err != nil {
		log.Fatalf("error getting Auth client: %v", err)
	}

	customToken, err := client.CustomToken(ctx, *uid)
	if err != nil {
		log.Fatalf("error creating custom token: %v", err)
	}

	// Exchange the custom token for an ID token the send endpoint accepts.
	payload, err := json.Marshal(map[string]any{
		"token":             customToken,
		"returnSecureToken": true,
	})
	if err != nil {
		log.Fatalf("error marshaling payload: %v", err)
	}

	resp, err := http.Post(fmt.Sprintf(exchangeURL, *apiKey), "application/json", bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("error making POST request: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("error reading response body: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("non-OK HTTP status: %d, response: %s", resp.StatusCode, string(body))
	}

	var signIn signInResponse
	if err := json.Unmarshal(body, &signIn); err != nil {
		log.Fatalf("error unmarshalling response: %v", err)
	}

	fmt.Println(signIn.IDToken)
}
