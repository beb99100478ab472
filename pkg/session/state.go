package session

import "encoding/json"

// User is the identity resolved by a provider. It is treated as an immutable value:
// a new User replaces the old one on every change.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// State is the authentication state owned by a Store.
type State struct {
	User      *User
	IsLoading bool
	Error     string
}

// LoadingState returns the state a hosted provider starts in before its session check.
func LoadingState() State {
	return State{IsLoading: true}
}

// IsAuthenticated reports whether a user is present. It is derived, never stored,
// so it cannot disagree with User.
func (s State) IsAuthenticated() bool {
	return s.User != nil
}

// HasError reports whether the last operation left an error message.
func (s State) HasError() bool {
	return s.Error != ""
}

type stateJSON struct {
	User            *User   `json:"user"`
	IsAuthenticated bool    `json:"is_authenticated"`
	IsLoading       bool    `json:"is_loading"`
	Error           *string `json:"error"`
}

// MarshalJSON encodes the state with the derived authentication flag and a null error
// when there is none.
func (s State) MarshalJSON() ([]byte, error) {
	out := stateJSON{
		User:            s.User,
		IsAuthenticated: s.IsAuthenticated(),
		IsLoading:       s.IsLoading,
	}
	if s.Error != "" {
		msg := s.Error
		out.Error = &msg
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the wire form produced by MarshalJSON. The authentication flag is
// ignored and recomputed from the user.
func (s *State) UnmarshalJSON(data []byte) error {
	var in stateJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	s.User = in.User
	s.IsLoading = in.IsLoading
	s.Error = ""
	if in.Error != nil {
		s.Error = *in.Error
	}
	return nil
}

func cloneUser(u *User) *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
