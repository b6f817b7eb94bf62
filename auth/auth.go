// Package auth verifies Firebase ID tokens for the server-side send
// endpoint.
package auth

import (
	"net/http"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
)

// Authenticate extracts the Bearer ID token from req and verifies it
// against the Firebase project, returning the decoded token with the
// caller's uid.
func Authenticate(req *http.Request) (*auth.Token, error) {
	ctx := req.Context()
	app, err := firebase.NewApp(ctx, nil)
	if err != nil {
		return nil, err
	}

	client, err := app.Auth(ctx)
	if err != nil {
		return nil, err
	}

	jwtToken, err := bearerToken(req)
	if err != nil {
		return nil, err
	}
	return client.VerifyIDToken(ctx, jwtToken)
}
