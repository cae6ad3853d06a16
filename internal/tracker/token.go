package tracker

import (
	"github.com/zalando/go-keyring"
)

const (
	keyringService = "conch"
	keyringUser    = "anilist-token"
)

// SetToken persists the AniList access token in the system keyring.
func SetToken(token string) error {
	return keyring.Set(keyringService, keyringUser, token)
}

// GetToken reads the AniList access token from the system keyring.
func GetToken() (string, error) {
	return keyring.Get(keyringService, keyringUser)
}

// DeleteToken removes the AniList access token from the system keyring.
func DeleteToken() error {
	return keyring.Delete(keyringService, keyringUser)
}
