package platform

import (
	"github.com/nidhogg/agora/internal/agent"
)

// User is a simulated account. The id lists are owned by the Environment
// and only change under its lock.
type User struct {
	ID        string
	Info      map[string]any
	Agent     agent.Agent
	Following []string
	Followers []string
	Posts     []string // authored message ids
	Likes     []string // liked origin ids
	Reposts   []string // reposted origin ids
}

// NewUser creates a user driven by a.
func NewUser(id string, info map[string]any, a agent.Agent, following, followers []string) *User {
	return &User{
		ID:        id,
		Info:      info,
		Agent:     a,
		Following: append([]string(nil), following...),
		Followers: append([]string(nil), followers...),
	}
}

func (u *User) clone() User {
	c := *u
	c.Following = append([]string(nil), u.Following...)
	c.Followers = append([]string(nil), u.Followers...)
	c.Posts = append([]string(nil), u.Posts...)
	c.Likes = append([]string(nil), u.Likes...)
	c.Reposts = append([]string(nil), u.Reposts...)
	return c
}

// interacted is every message id the user authored, liked or reposted.
func (u *User) interacted() map[string]bool {
	set := make(map[string]bool, len(u.Posts)+len(u.Likes)+len(u.Reposts))
	for _, ids := range [][]string{u.Posts, u.Likes, u.Reposts} {
		for _, id := range ids {
			set[id] = true
		}
	}
	return set
}
