package api

import (
	"encoding/json"
	"time"

	"github.com/jmcleod/agentgate/storage"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// LoginRequest is the JSON body for POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is returned from POST /auth/login. ExpiresAt has
// one-second resolution and the token is rejected from that instant on.
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// MeResponse is returned from GET /auth/me.
type MeResponse struct {
	Sub      string `json:"sub"`
	Username string `json:"username"`
}

// ChatRequest is the JSON body for POST /agent/chat.
type ChatRequest struct {
	Text string `json:"text"`
}

// CreateProjectRequest is the JSON body for POST /projects/create.
type CreateProjectRequest struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	UserIDs []int  `json:"userIds"`
}

// CreateTeamMemberRequest is the JSON body for POST /team-members/create.
type CreateTeamMemberRequest struct {
	ID        int             `json:"id"`
	Name      string          `json:"name"`
	Lastname  string          `json:"lastname"`
	Email     string          `json:"email"`
	Allocated json.RawMessage `json:"allocated,omitempty"`
	Position  string          `json:"position,omitempty"`
}

// ListProjectsResponse is returned from GET /projects.
type ListProjectsResponse struct {
	Projects []storage.Project `json:"projects"`
}

// ProjectResponse is returned by project mutations.
type ProjectResponse struct {
	Message string          `json:"message"`
	Project storage.Project `json:"project"`
}

// ListTeamMembersResponse is returned from GET /team-members.
type ListTeamMembersResponse struct {
	TeamMembers []storage.TeamMember `json:"teamMembers"`
}

// TeamMemberResponse is returned from POST /team-members/create.
type TeamMemberResponse struct {
	Message    string             `json:"message"`
	TeamMember storage.TeamMember `json:"teamMember"`
}

// HealthResponse is returned from GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions,omitempty"`
}
