package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
)

// Collection names. The JSON file backend stores each as <name>-db.json.
const (
	ProjectsCollection    = "projects"
	TeamMembersCollection = "team-members"
)

var (
	// ErrAlreadyAssigned is returned when adding a member a project already has.
	ErrAlreadyAssigned = errors.New("team member already assigned to this project")
	// ErrNotAssigned is returned when removing a member a project does not have.
	ErrNotAssigned = errors.New("team member not found for this project")
)

// Project groups team members by their numeric ids.
type Project struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	UserIDs []int  `json:"userIds"`
}

// TeamMember is a person that can be allocated to projects.
type TeamMember struct {
	ID        int             `json:"id"`
	Name      string          `json:"name"`
	Lastname  string          `json:"lastname"`
	Email     string          `json:"email"`
	Allocated json.RawMessage `json:"allocated,omitempty"`
	Position  string          `json:"position,omitempty"`
}

// Records is the typed view over a Repository used by the HTTP handlers.
type Records struct {
	repo Repository
}

// NewRecords wraps repo.
func NewRecords(repo Repository) *Records {
	return &Records{repo: repo}
}

// Projects returns all projects in creation order.
func (r *Records) Projects() ([]Project, error) {
	return listAs[Project](r.repo, ProjectsCollection)
}

// CreateProject stores a new project. A nil member list is stored as empty.
func (r *Records) CreateProject(p Project) (Project, error) {
	if p.UserIDs == nil {
		p.UserIDs = []int{}
	}
	data, err := json.Marshal(p)
	if err != nil {
		return Project{}, err
	}
	if err := r.repo.Append(ProjectsCollection, p.ID, data); err != nil {
		return Project{}, err
	}
	return p, nil
}

// AddProjectMember assigns userID to the project.
func (r *Records) AddProjectMember(projectID string, userID int) (Project, error) {
	return r.updateProject(projectID, func(p *Project) error {
		if slices.Contains(p.UserIDs, userID) {
			return ErrAlreadyAssigned
		}
		p.UserIDs = append(p.UserIDs, userID)
		return nil
	})
}

// RemoveProjectMember unassigns userID from the project.
func (r *Records) RemoveProjectMember(projectID string, userID int) (Project, error) {
	return r.updateProject(projectID, func(p *Project) error {
		idx := slices.Index(p.UserIDs, userID)
		if idx < 0 {
			return ErrNotAssigned
		}
		p.UserIDs = slices.Delete(p.UserIDs, idx, idx+1)
		return nil
	})
}

func (r *Records) updateProject(projectID string, mutate func(*Project) error) (Project, error) {
	var updated Project
	err := r.repo.Update(ProjectsCollection, projectID, func(current json.RawMessage) (json.RawMessage, error) {
		var p Project
		if err := json.Unmarshal(current, &p); err != nil {
			return nil, fmt.Errorf("decoding project %s: %w", projectID, err)
		}
		if p.UserIDs == nil {
			p.UserIDs = []int{}
		}
		if err := mutate(&p); err != nil {
			return nil, err
		}
		updated = p
		return json.Marshal(p)
	})
	if err != nil {
		return Project{}, err
	}
	return updated, nil
}

// TeamMembers returns all team members in creation order.
func (r *Records) TeamMembers() ([]TeamMember, error) {
	return listAs[TeamMember](r.repo, TeamMembersCollection)
}

// CreateTeamMember stores a new team member.
func (r *Records) CreateTeamMember(m TeamMember) (TeamMember, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return TeamMember{}, err
	}
	if err := r.repo.Append(TeamMembersCollection, strconv.Itoa(m.ID), data); err != nil {
		return TeamMember{}, err
	}
	return m, nil
}

func listAs[T any](repo Repository, collection string) ([]T, error) {
	raw, err := repo.List(collection)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raw))
	for _, rec := range raw {
		var v T
		if err := json.Unmarshal(rec, &v); err != nil {
			return nil, fmt.Errorf("decoding %s record: %w", collection, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// RecordID extracts the "id" field of a JSON object as a string. Numeric
// ids are returned in their literal form.
func RecordID(rec json.RawMessage) (string, error) {
	var head struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(rec, &head); err != nil {
		return "", err
	}
	if len(head.ID) == 0 || string(head.ID) == "null" {
		return "", errors.New("record has no id")
	}
	var s string
	if err := json.Unmarshal(head.ID, &s); err == nil {
		return s, nil
	}
	return string(head.ID), nil
}
