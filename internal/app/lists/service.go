// Package lists coordinates list and ranking workflows on top of the store.
package lists

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"yearlist/internal/store"
)

// Store captures the persistence needs for list workflows.
type Store interface {
	CreateList(ctx context.Context, userID int64, p store.CreateListParams) (*store.CreateListResult, error)
	UpdateListMetadata(ctx context.Context, userID int64, listID string, p store.UpdateListParams) error
	ReplaceListItems(ctx context.Context, userID int64, listID string, albums []store.AlbumInput) (int, error)
	IncrementalUpdate(ctx context.Context, userID int64, listID string, p store.IncrementalUpdateParams) (*store.IncrementalUpdateResult, error)
	ReorderItems(ctx context.Context, userID int64, listID string, order []store.ItemRef) (int64, error)
	UpdateItemComment(ctx context.Context, userID int64, listID string, identifier int64, comment string) error
	SetMainStatus(ctx context.Context, userID int64, listID string, isMain bool) (*store.MainStatusResult, error)
	DeleteList(ctx context.Context, userID int64, listID string) error
	SetupStatus(ctx context.Context, userID int64, dismissedUntil *time.Time) (*store.SetupStatus, error)
	BulkUpdateLists(ctx context.Context, userID int64, entries []store.BulkUpdateEntry) (*store.BulkUpdateResult, error)
	ListsByUser(ctx context.Context, userID int64) ([]store.ListSummary, error)
	ListWithItems(ctx context.Context, userID int64, listID string) (*store.ListWithItems, error)
	HasScrobblerConnection(ctx context.Context, userID int64) (bool, error)
}

// PlayHistoryRefresher pulls fresh playback counts for albums from the
// user's linked scrobbling service.
type PlayHistoryRefresher interface {
	RefreshAlbums(ctx context.Context, userID int64, albumIDs []int64) error
}

// Service coordinates list-related operations.
type Service interface {
	Create(ctx context.Context, userID int64, p store.CreateListParams) (*store.CreateListResult, error)
	UpdateMetadata(ctx context.Context, userID int64, listID string, p store.UpdateListParams) error
	ReplaceItems(ctx context.Context, userID int64, listID string, albums []store.AlbumInput) (int, error)
	IncrementalUpdate(ctx context.Context, userID int64, listID string, p store.IncrementalUpdateParams) (*store.IncrementalUpdateResult, error)
	Reorder(ctx context.Context, userID int64, listID string, order []store.ItemRef) (int64, error)
	UpdateComment(ctx context.Context, userID int64, listID string, identifier int64, comment string) error
	SetMain(ctx context.Context, userID int64, listID string, isMain bool) (*store.MainStatusResult, error)
	Delete(ctx context.Context, userID int64, listID string) error
	SetupStatus(ctx context.Context, userID int64, dismissedUntil *time.Time) (*store.SetupStatus, error)
	BulkUpdate(ctx context.Context, userID int64, entries []store.BulkUpdateEntry) (*store.BulkUpdateResult, error)
	List(ctx context.Context, userID int64) ([]store.ListSummary, error)
	Get(ctx context.Context, userID int64, listID string) (*store.ListWithItems, error)
}

type service struct {
	store     Store
	refresher PlayHistoryRefresher
	log       zerolog.Logger
}

// New constructs a Service backed by the provided Store. The refresher may
// be nil when no scrobbling integration is configured.
func New(st Store, refresher PlayHistoryRefresher, log zerolog.Logger) Service {
	return &service{store: st, refresher: refresher, log: log}
}

func (s *service) Create(ctx context.Context, userID int64, p store.CreateListParams) (*store.CreateListResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.store.CreateList(ctx, userID, p)
}

func (s *service) UpdateMetadata(ctx context.Context, userID int64, listID string, p store.UpdateListParams) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.store.UpdateListMetadata(ctx, userID, listID, p)
}

func (s *service) ReplaceItems(ctx context.Context, userID int64, listID string, albums []store.AlbumInput) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.store.ReplaceListItems(ctx, userID, listID, albums)
}

func (s *service) IncrementalUpdate(ctx context.Context, userID int64, listID string, p store.IncrementalUpdateParams) (*store.IncrementalUpdateResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result, err := s.store.IncrementalUpdate(ctx, userID, listID, p)
	if err != nil {
		return nil, err
	}
	if len(result.Added) > 0 && s.refresher != nil {
		albumIDs := make([]int64, len(result.Added))
		for i, added := range result.Added {
			albumIDs[i] = added.AlbumID
		}
		go s.refreshPlayHistory(userID, albumIDs)
	}
	return result, nil
}

// refreshPlayHistory is fire-and-forget: failures are logged, never surfaced
// to the caller that triggered the addition.
func (s *service) refreshPlayHistory(userID int64, albumIDs []int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	linked, err := s.store.HasScrobblerConnection(ctx, userID)
	if err != nil {
		s.log.Error().Err(err).Int64("user_id", userID).Msg("scrobbler connection lookup failed")
		return
	}
	if !linked {
		return
	}
	if err := s.refresher.RefreshAlbums(ctx, userID, albumIDs); err != nil {
		s.log.Error().Err(err).Int64("user_id", userID).Ints64("album_ids", albumIDs).Msg("play history refresh failed")
	}
}

func (s *service) Reorder(ctx context.Context, userID int64, listID string, order []store.ItemRef) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.store.ReorderItems(ctx, userID, listID, order)
}

func (s *service) UpdateComment(ctx context.Context, userID int64, listID string, identifier int64, comment string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.store.UpdateItemComment(ctx, userID, listID, identifier, comment)
}

func (s *service) SetMain(ctx context.Context, userID int64, listID string, isMain bool) (*store.MainStatusResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.store.SetMainStatus(ctx, userID, listID, isMain)
}

func (s *service) Delete(ctx context.Context, userID int64, listID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.store.DeleteList(ctx, userID, listID)
}

func (s *service) SetupStatus(ctx context.Context, userID int64, dismissedUntil *time.Time) (*store.SetupStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.store.SetupStatus(ctx, userID, dismissedUntil)
}

func (s *service) BulkUpdate(ctx context.Context, userID int64, entries []store.BulkUpdateEntry) (*store.BulkUpdateResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.store.BulkUpdateLists(ctx, userID, entries)
}

func (s *service) List(ctx context.Context, userID int64) ([]store.ListSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.store.ListsByUser(ctx, userID)
}

func (s *service) Get(ctx context.Context, userID int64, listID string) (*store.ListWithItems, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.store.ListWithItems(ctx, userID, listID)
}
