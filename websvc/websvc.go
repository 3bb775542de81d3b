package websvc

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"strconv"
	"time"
)

var (
	CookieName     = getEnv("COOKIE_NAME", "gtdkit_session")
	CookieHashKey  = getEnv("COOKIE_HASH_KEY", "very-secret")
	CookieBlockKey = getEnv("COOKIE_BLOCK_KEY", "a-lots-of-secret")
)

func getEnv(key, fallback string) string {
	value, exists := os.LookupEnv(key)
	if !exists {
		value = fallback
	}
	return value
}

type contextKey string

const SessionIDContextKey contextKey = "SessionID"

// Tokens is the pair issued by authsvc on login. ExpiresAt is read from the
// access token when it carries an exp claim and is informational only.
type Tokens struct {
	Access    string    `json:"access"`
	Refresh   string    `json:"refresh"`
	ExpiresAt time.Time `json:"-"`
}

// AuthState is the whole session state of one browser. A nil Tokens means
// unauthenticated.
type AuthState struct {
	Tokens *Tokens
}

func (s AuthState) Authenticated() bool { return s.Tokens != nil }

type Task struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Done        string `json:"done"`
	UserID      uint64 `json:"userId"`
}

// UnmarshalJSON accepts id and done either as strings or as the numbers and
// booleans tasksvc emits.
func (t *Task) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID          json.RawMessage `json:"id"`
		Title       string          `json:"title"`
		Description string          `json:"description"`
		Done        json.RawMessage `json:"done"`
		UserID      uint64          `json:"userId"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	id, err := scalarText(raw.ID)
	if err != nil {
		return err
	}
	done, err := scalarText(raw.Done)
	if err != nil {
		return err
	}

	*t = Task{
		ID:          id,
		Title:       raw.Title,
		Description: raw.Description,
		Done:        done,
		UserID:      raw.UserID,
	}
	return nil
}

func scalarText(b json.RawMessage) (string, error) {
	if len(b) == 0 || string(b) == "null" {
		return "", nil
	}

	d := json.NewDecoder(bytes.NewReader(b))
	d.UseNumber()

	var v interface{}
	if err := d.Decode(&v); err != nil {
		return "", err
	}

	switch x := v.(type) {
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	case bool:
		return strconv.FormatBool(x), nil
	}
	return "", ErrInvalidTaskField
}

type ErrorKind int

const (
	// KindAPI means the API answered with an error payload.
	KindAPI ErrorKind = iota + 1
	// KindTransport means no usable response was received.
	KindTransport
)

func (k ErrorKind) String() string {
	switch k {
	case KindAPI:
		return "api"
	case KindTransport:
		return "transport"
	}
	return "unknown"
}

// Error is what every gateway call fails with. Message is shown to the user
// as is.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string { return e.Message }

var (
	ErrSessionIDMissing  = errors.New("session ID was not passed through the context")
	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrInvalidTaskField  = errors.New("task field is neither a string, a number nor a boolean")
	ErrUnexpectedPayload = errors.New("unexpected response payload")
)
