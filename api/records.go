package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/jmcleod/agentgate/storage"
)

// Realtime events emitted by record mutations.
const (
	EventProjectCreated    = "project:created"
	EventProjectUpdated    = "project:updated"
	EventProjectDeleted    = "project:deleted"
	EventTeamMemberCreated = "team-member:created"
)

// ListProjects handles GET /projects.
func (a *API) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := a.records.Projects()
	if err != nil {
		mapError(w, err, "Error fetching projects")
		return
	}
	writeJSON(w, http.StatusOK, ListProjectsResponse{Projects: projects})
}

// CreateProject handles POST /projects/create and its service-key twin.
func (a *API) CreateProject(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[CreateProjectRequest](w, r, false)
	if !ok {
		return
	}
	if req.ID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name are required")
		return
	}

	project, err := a.records.CreateProject(storage.Project{
		ID:      req.ID,
		Name:    req.Name,
		UserIDs: req.UserIDs,
	})
	if err != nil {
		mapError(w, err, "Error creating project",
			errorCase{storage.ErrConflict, http.StatusBadRequest, "Project id already exists"})
		return
	}

	a.audit.logEvent(AuditProjectCreated, r, slog.String("project_id", project.ID))
	a.publish(r, EventProjectCreated, project)
	writeJSON(w, http.StatusCreated, ProjectResponse{
		Message: "Project created successfully",
		Project: project,
	})
}

// AddProjectMember handles PUT /projects/{projectID}/team-members/{userID}.
func (a *API) AddProjectMember(w http.ResponseWriter, r *http.Request) {
	projectID, userID, ok := memberParams(w, r)
	if !ok {
		return
	}

	project, err := a.records.AddProjectMember(projectID, userID)
	if err != nil {
		mapError(w, err, "Error adding team member to the project",
			errorCase{storage.ErrNotFound, http.StatusNotFound, "Project not found"},
			errorCase{storage.ErrAlreadyAssigned, http.StatusBadRequest, "Team member already assigned to this project"})
		return
	}

	a.audit.logEvent(AuditProjectMemberAdded, r,
		slog.String("project_id", projectID),
		slog.Int("user_id", userID))
	a.publish(r, EventProjectUpdated, project)
	writeJSON(w, http.StatusOK, ProjectResponse{
		Message: fmt.Sprintf("Team member %d added to the project %s", userID, projectID),
		Project: project,
	})
}

// RemoveProjectMember handles DELETE /projects/{projectID}/team-members/{userID}.
func (a *API) RemoveProjectMember(w http.ResponseWriter, r *http.Request) {
	projectID, userID, ok := memberParams(w, r)
	if !ok {
		return
	}

	project, err := a.records.RemoveProjectMember(projectID, userID)
	if err != nil {
		mapError(w, err, "Error removing team member from project",
			errorCase{storage.ErrNotFound, http.StatusNotFound, "Project not found"},
			errorCase{storage.ErrNotAssigned, http.StatusNotFound, "Team member not found for this project"})
		return
	}

	a.audit.logEvent(AuditProjectMemberRemoved, r,
		slog.String("project_id", projectID),
		slog.Int("user_id", userID))
	a.publish(r, EventProjectDeleted, project)
	writeJSON(w, http.StatusOK, ProjectResponse{
		Message: fmt.Sprintf("Team member %d removed from project %s", userID, projectID),
		Project: project,
	})
}

// ListTeamMembers handles GET /team-members.
func (a *API) ListTeamMembers(w http.ResponseWriter, r *http.Request) {
	members, err := a.records.TeamMembers()
	if err != nil {
		mapError(w, err, "Error fetching team members")
		return
	}
	writeJSON(w, http.StatusOK, ListTeamMembersResponse{TeamMembers: members})
}

// CreateTeamMember handles POST /team-members/create and its service-key twin.
func (a *API) CreateTeamMember(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[CreateTeamMemberRequest](w, r, false)
	if !ok {
		return
	}
	if req.ID == 0 || req.Name == "" || req.Lastname == "" || req.Email == "" {
		writeError(w, http.StatusBadRequest, "id, name, lastname and email are required")
		return
	}

	member, err := a.records.CreateTeamMember(storage.TeamMember{
		ID:        req.ID,
		Name:      req.Name,
		Lastname:  req.Lastname,
		Email:     req.Email,
		Allocated: req.Allocated,
		Position:  req.Position,
	})
	if err != nil {
		mapError(w, err, "Error creating team member",
			errorCase{storage.ErrConflict, http.StatusBadRequest, "Team member with this id already exists"})
		return
	}

	a.audit.logEvent(AuditTeamMemberCreated, r, slog.Int("member_id", member.ID))
	a.publish(r, EventTeamMemberCreated, member)
	writeJSON(w, http.StatusCreated, TeamMemberResponse{
		Message:    "Team member created successfully",
		TeamMember: member,
	})
}

func memberParams(w http.ResponseWriter, r *http.Request) (string, int, bool) {
	projectID := chi.URLParam(r, "projectID")
	userID, err := strconv.Atoi(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "userID must be an integer")
		return "", 0, false
	}
	return projectID, userID, true
}

// publish broadcasts a mutation globally. Session callers do not receive
// their own change; service and anonymous callers have no socket to skip.
func (a *API) publish(r *http.Request, event string, payload any) {
	if a.hub == nil {
		return
	}
	var err error
	if p, ok := PrincipalFromContext(r.Context()); ok {
		err = a.hub.PublishExceptActor(event, payload, p.SubjectID, "")
	} else {
		err = a.hub.Publish(event, payload, "")
	}
	if err != nil {
		a.logger.Warn("realtime publish failed", "event", event, "error", err)
	}
}
