// Package locations manages an organization's delivery locations and their
// photos.
package locations

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"routemate/internal/platform/metrics"
	"routemate/internal/storage"
)

const (
	maxNameLength    = 200
	maxAddressLength = 500
	maxNotesLength   = 4000
	maxCaptionLength = 300
	maxListLimit     = 500

	defaultMaxImageBytes = 10 << 20
	defaultURLTTL        = time.Hour
)

// imageExtensions maps the sniffed content types accepted for photos to the
// extension used in their object key.
var imageExtensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// Service orchestrates validation, persistence and photo storage.
type Service struct {
	repo          Repository
	objects       storage.Storage
	clock         clockwork.Clock
	logger        *slog.Logger
	maxImageBytes int64
	urlTTL        time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithClock substitutes the time source.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMaxImageBytes caps the size of a single photo.
func WithMaxImageBytes(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxImageBytes = n
		}
	}
}

// WithURLTTL sets how long signed photo URLs stay valid.
func WithURLTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.urlTTL = ttl
		}
	}
}

// NewService wires a Service with the provided repository and object store.
func NewService(repo Repository, objects storage.Storage, opts ...Option) *Service {
	s := &Service{
		repo:          repo,
		objects:       objects,
		clock:         clockwork.NewRealClock(),
		logger:        slog.Default(),
		maxImageBytes: defaultMaxImageBytes,
		urlTTL:        defaultURLTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates and persists a new location in the member's organization.
func (s *Service) Create(ctx context.Context, member Member, input CreateInput) (Location, error) {
	if err := requireOrganization(member.OrganizationID); err != nil {
		return Location{}, err
	}

	loc := Location{
		ID:                    uuid.New(),
		OrganizationID:        member.OrganizationID,
		Name:                  strings.TrimSpace(input.Name),
		Address:               strings.TrimSpace(input.Address),
		OpeningHours:          strings.TrimSpace(input.OpeningHours),
		AccessNotes:           strings.TrimSpace(input.AccessNotes),
		ParkingNotes:          strings.TrimSpace(input.ParkingNotes),
		ReceivingNotes:        strings.TrimSpace(input.ReceivingNotes),
		SpecialConsiderations: strings.TrimSpace(input.SpecialConsiderations),
		Images:                []Image{},
	}
	if err := validateLocation(loc); err != nil {
		return Location{}, err
	}

	now := s.clock.Now().UTC()
	editor := member.Editor()
	loc.CreatedBy = editor
	loc.LastUpdatedBy = editor
	loc.CreatedAt = now
	loc.LastUpdatedAt = now

	created, err := s.repo.Create(ctx, loc)
	if err != nil {
		return Location{}, err
	}
	return s.withURLs(ctx, created), nil
}

// Get retrieves a location of the organization.
func (s *Service) Get(ctx context.Context, orgID string, id uuid.UUID) (Location, error) {
	if err := requireOrganization(orgID); err != nil {
		return Location{}, err
	}
	loc, err := s.repo.Get(ctx, orgID, id)
	if err != nil {
		return Location{}, err
	}
	return s.withURLs(ctx, loc), nil
}

// List returns the organization's locations, newest first.
func (s *Service) List(ctx context.Context, opts ListOptions) ([]Location, error) {
	if err := requireOrganization(opts.OrganizationID); err != nil {
		return nil, err
	}
	opts.Query = strings.TrimSpace(opts.Query)
	if opts.Limit <= 0 || opts.Limit > maxListLimit {
		opts.Limit = maxListLimit
	}

	locs, err := s.repo.List(ctx, opts)
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(locs, func(a, b Location) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if len(locs) > opts.Limit {
		locs = locs[:opts.Limit]
	}
	for i := range locs {
		locs[i] = s.withURLs(ctx, locs[i])
	}
	return locs, nil
}

// Update applies the non-nil fields of input and stamps the editor.
func (s *Service) Update(ctx context.Context, member Member, id uuid.UUID, input UpdateInput) (Location, error) {
	if err := requireOrganization(member.OrganizationID); err != nil {
		return Location{}, err
	}
	loc, err := s.repo.Get(ctx, member.OrganizationID, id)
	if err != nil {
		return Location{}, err
	}

	apply := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	apply(&loc.Name, input.Name)
	apply(&loc.Address, input.Address)
	apply(&loc.OpeningHours, input.OpeningHours)
	apply(&loc.AccessNotes, input.AccessNotes)
	apply(&loc.ParkingNotes, input.ParkingNotes)
	apply(&loc.ReceivingNotes, input.ReceivingNotes)
	apply(&loc.SpecialConsiderations, input.SpecialConsiderations)

	if err := validateLocation(loc); err != nil {
		return Location{}, err
	}

	return s.touch(ctx, member, loc)
}

// Delete removes a location and then, best effort, its photos.
func (s *Service) Delete(ctx context.Context, orgID string, id uuid.UUID) error {
	if err := requireOrganization(orgID); err != nil {
		return err
	}
	loc, err := s.repo.Get(ctx, orgID, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, orgID, id); err != nil {
		return err
	}
	for _, img := range loc.Images {
		s.deleteObject(ctx, img.Path)
	}
	return nil
}

// AddImage stores a photo and attaches it to the location.
func (s *Service) AddImage(ctx context.Context, member Member, id uuid.UUID, upload ImageUpload) (Location, error) {
	if err := requireOrganization(member.OrganizationID); err != nil {
		return Location{}, err
	}
	caption := strings.TrimSpace(upload.Caption)
	if utf8.RuneCountInString(caption) > maxCaptionLength {
		return Location{}, &ValidationError{Message: fmt.Sprintf("caption must be at most %d characters", maxCaptionLength)}
	}
	if upload.Content == nil {
		return Location{}, &ValidationError{Message: "image is required"}
	}

	loc, err := s.repo.Get(ctx, member.OrganizationID, id)
	if err != nil {
		return Location{}, err
	}

	data, err := io.ReadAll(io.LimitReader(upload.Content, s.maxImageBytes+1))
	if err != nil {
		metrics.ImageUploadsTotal.WithLabelValues("error").Inc()
		return Location{}, fmt.Errorf("read image: %w", err)
	}
	if int64(len(data)) > s.maxImageBytes {
		metrics.ImageUploadsTotal.WithLabelValues("rejected").Inc()
		return Location{}, ErrImageTooLarge
	}
	ext, ok := imageExtensions[http.DetectContentType(data)]
	if len(data) == 0 || !ok {
		metrics.ImageUploadsTotal.WithLabelValues("rejected").Inc()
		return Location{}, &ValidationError{Message: "image must be a PNG, JPEG, GIF or WebP file"}
	}

	imageID := uuid.New()
	key := fmt.Sprintf("locations/%s/%s.%s", loc.ID, imageID, ext)
	if _, err := s.objects.Upload(ctx, key, bytes.NewReader(data), int64(len(data))); err != nil {
		metrics.ImageUploadsTotal.WithLabelValues("error").Inc()
		return Location{}, fmt.Errorf("store image: %w", err)
	}
	url, err := s.objects.GetURL(ctx, key, s.urlTTL)
	if err != nil {
		s.deleteObject(ctx, key)
		metrics.ImageUploadsTotal.WithLabelValues("error").Inc()
		return Location{}, fmt.Errorf("image url: %w", err)
	}

	img := Image{
		ID:         imageID,
		LocationID: loc.ID,
		Path:       key,
		URL:        url,
		Caption:    caption,
		UploadedBy: member.UID,
		UploadedAt: s.clock.Now().UTC(),
	}
	if err := s.repo.AddImage(ctx, img); err != nil {
		s.deleteObject(ctx, key)
		metrics.ImageUploadsTotal.WithLabelValues("error").Inc()
		return Location{}, err
	}
	metrics.ImageUploadsTotal.WithLabelValues("ok").Inc()

	loc.Images = append(loc.Images, img)
	return s.touch(ctx, member, loc)
}

// RemoveImage detaches a photo and deletes its object.
func (s *Service) RemoveImage(ctx context.Context, member Member, id, imageID uuid.UUID) (Location, error) {
	if err := requireOrganization(member.OrganizationID); err != nil {
		return Location{}, err
	}
	loc, err := s.repo.Get(ctx, member.OrganizationID, id)
	if err != nil {
		return Location{}, err
	}

	img, err := s.repo.RemoveImage(ctx, loc.ID, imageID)
	if err != nil {
		return Location{}, err
	}
	s.deleteObject(ctx, img.Path)

	loc.Images = slices.DeleteFunc(loc.Images, func(i Image) bool { return i.ID == imageID })
	return s.touch(ctx, member, loc)
}

// OpenImage streams a stored photo. Only objects referenced by one of the
// organization's locations can be opened.
func (s *Service) OpenImage(ctx context.Context, orgID, path string) (io.ReadCloser, error) {
	if err := requireOrganization(orgID); err != nil {
		return nil, err
	}
	id, ok := locationIDFromKey(path)
	if !ok {
		return nil, ErrNotFound
	}
	loc, err := s.repo.Get(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if !slices.ContainsFunc(loc.Images, func(i Image) bool { return i.Path == path }) {
		return nil, ErrNotFound
	}

	rc, err := s.objects.Download(ctx, path)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	return rc, err
}

func (s *Service) touch(ctx context.Context, member Member, loc Location) (Location, error) {
	loc.LastUpdatedBy = member.Editor()
	loc.LastUpdatedAt = s.clock.Now().UTC()
	updated, err := s.repo.Update(ctx, loc)
	if err != nil {
		return Location{}, err
	}
	return s.withURLs(ctx, updated), nil
}

// withURLs refreshes photo URLs, which expire for signed backends.
func (s *Service) withURLs(ctx context.Context, loc Location) Location {
	if loc.Images == nil {
		loc.Images = []Image{}
	}
	for i := range loc.Images {
		url, err := s.objects.GetURL(ctx, loc.Images[i].Path, s.urlTTL)
		if err != nil {
			s.logger.Warn("could not resolve image url", "path", loc.Images[i].Path, "error", err)
			continue
		}
		loc.Images[i].URL = url
	}
	return loc
}

func (s *Service) deleteObject(ctx context.Context, path string) {
	if err := s.objects.Delete(ctx, path); err != nil {
		s.logger.Warn("failed to delete image object", "path", path, "error", err)
	}
}

func locationIDFromKey(path string) (uuid.UUID, bool) {
	parts := strings.Split(path, "/")
	if len(parts) != 3 || parts[0] != "locations" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(parts[1])
	return id, err == nil
}

func requireOrganization(orgID string) error {
	if strings.TrimSpace(orgID) == "" {
		return &ValidationError{Message: "organization is required"}
	}
	return nil
}

func validateLocation(loc Location) error {
	if loc.Name == "" {
		return &ValidationError{Message: "name is required"}
	}
	if loc.Address == "" {
		return &ValidationError{Message: "address is required"}
	}
	if utf8.RuneCountInString(loc.Name) > maxNameLength {
		return &ValidationError{Message: fmt.Sprintf("name must be at most %d characters", maxNameLength)}
	}
	if utf8.RuneCountInString(loc.Address) > maxAddressLength {
		return &ValidationError{Message: fmt.Sprintf("address must be at most %d characters", maxAddressLength)}
	}
	notes := map[string]string{
		"opening hours":          loc.OpeningHours,
		"access notes":           loc.AccessNotes,
		"parking notes":          loc.ParkingNotes,
		"receiving notes":        loc.ReceivingNotes,
		"special considerations": loc.SpecialConsiderations,
	}
	for field, value := range notes {
		if utf8.RuneCountInString(value) > maxNotesLength {
			return &ValidationError{Message: fmt.Sprintf("%s must be at most %d characters", field, maxNotesLength)}
		}
	}
	return nil
}

// matches reports whether loc's name or address contains query, ignoring case.
func matches(loc Location, query string) bool {
	if query == "" {
		return true
	}
	q := strings.ToLower(query)
	return strings.Contains(strings.ToLower(loc.Name), q) || strings.Contains(strings.ToLower(loc.Address), q)
}
