package locations

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a location or image cannot be located within
// the caller's organization.
var ErrNotFound = errors.New("location not found")

// ErrValidation is returned when input validation fails.
var ErrValidation = errors.New("validation error")

// ErrImageTooLarge is returned when an upload exceeds the configured limit.
var ErrImageTooLarge = errors.New("image is too large")

// ValidationError wraps a validation message so callers can distinguish
// client errors from internal failures.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

const unknownEditorName = "Unknown user"

// Editor identifies who created or last changed a location.
type Editor struct {
	UID  string `json:"uid"`
	Name string `json:"name"`
}

// Member is the signed-in caller a change is made on behalf of.
type Member struct {
	UID            string
	Name           string
	OrganizationID string
}

// Editor returns the stamp recorded on locations the member changes.
func (m Member) Editor() Editor {
	name := strings.TrimSpace(m.Name)
	if name == "" {
		name = unknownEditorName
	}
	return Editor{UID: m.UID, Name: name}
}

// Image is a photo attached to a location.
type Image struct {
	ID         uuid.UUID `db:"id" json:"id"`
	LocationID uuid.UUID `db:"location_id" json:"-"`
	Path       string    `db:"path" json:"path"`
	URL        string    `db:"url" json:"url"`
	Caption    string    `db:"caption" json:"caption"`
	UploadedBy string    `db:"uploaded_by" json:"uploadedBy"`
	UploadedAt time.Time `db:"uploaded_at" json:"uploadedAt"`
}

// Location is a delivery address with the notes drivers need on arrival.
type Location struct {
	ID                    uuid.UUID `json:"id"`
	OrganizationID        string    `json:"organizationId"`
	Name                  string    `json:"name"`
	Address               string    `json:"address"`
	OpeningHours          string    `json:"openingHours"`
	AccessNotes           string    `json:"accessNotes"`
	ParkingNotes          string    `json:"parkingNotes"`
	ReceivingNotes        string    `json:"receivingNotes"`
	SpecialConsiderations string    `json:"specialConsiderations"`
	Images                []Image   `json:"images"`
	CreatedBy             Editor    `json:"createdBy"`
	LastUpdatedBy         Editor    `json:"lastUpdatedBy"`
	CreatedAt             time.Time `json:"createdAt"`
	LastUpdatedAt         time.Time `json:"lastUpdatedAt"`
}

func (l Location) clone() Location {
	l.Images = append([]Image(nil), l.Images...)
	return l
}

// CreateInput captures the data needed to create a location.
type CreateInput struct {
	Name                  string
	Address               string
	OpeningHours          string
	AccessNotes           string
	ParkingNotes          string
	ReceivingNotes        string
	SpecialConsiderations string
}

// UpdateInput captures the editable fields. Nil fields are left unchanged.
type UpdateInput struct {
	Name                  *string
	Address               *string
	OpeningHours          *string
	AccessNotes           *string
	ParkingNotes          *string
	ReceivingNotes        *string
	SpecialConsiderations *string
}

// ListOptions describes filters for listing locations.
type ListOptions struct {
	OrganizationID string
	Query          string
	Limit          int
}

// ImageUpload is a photo to attach to a location.
type ImageUpload struct {
	Content io.Reader
	Caption string
}

// Repository defines persistence operations for locations. Every lookup is
// scoped to an organization.
type Repository interface {
	Create(ctx context.Context, location Location) (Location, error)
	Get(ctx context.Context, orgID string, id uuid.UUID) (Location, error)
	List(ctx context.Context, opts ListOptions) ([]Location, error)
	Update(ctx context.Context, location Location) (Location, error)
	Delete(ctx context.Context, orgID string, id uuid.UUID) error
	AddImage(ctx context.Context, image Image) error
	RemoveImage(ctx context.Context, locationID, imageID uuid.UUID) (Image, error)
}
