package storage

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/harvest/internal/errors"
	"github.com/rohankatakam/harvest/internal/models"
)

// sqlStore holds the queries shared by the SQLite and PostgreSQL stores.
// Queries are written with ? placeholders and rebound for the driver.
type sqlStore struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// Close closes the database connection
func (s *sqlStore) Close() error {
	return s.db.Close()
}

func (s *sqlStore) q(query string) string {
	return s.db.Rebind(query)
}

// Source operations

func (s *sqlStore) SaveSource(ctx context.Context, source *models.Source) error {
	if source.CreatedAt.IsZero() {
		source.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO sources (url, owner, name, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (url) DO NOTHING
	`), source.URL, source.Owner, source.Name, source.CreatedAt)
	if err != nil {
		return errors.DatabaseErrorf(err, "save source %s", source.URL)
	}

	existing, err := s.GetSource(ctx, source.URL)
	if err != nil {
		return err
	}
	*source = *existing
	return nil
}

func (s *sqlStore) GetSource(ctx context.Context, url string) (*models.Source, error) {
	var source models.Source
	err := s.db.GetContext(ctx, &source, s.q(`SELECT id, url, owner, name, created_at FROM sources WHERE url = ?`), url)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.DatabaseErrorf(err, "get source %s", url)
	}
	return &source, nil
}

func (s *sqlStore) ListSources(ctx context.Context) ([]*models.Source, error) {
	var sources []*models.Source
	err := s.db.SelectContext(ctx, &sources, `SELECT id, url, owner, name, created_at FROM sources ORDER BY id`)
	if err != nil {
		return nil, errors.DatabaseError(err, "list sources")
	}
	return sources, nil
}

// Author operations

func (s *sqlStore) GetAuthor(ctx context.Context, sourceID int64, name string) (*models.Author, error) {
	var author models.Author
	err := s.db.GetContext(ctx, &author, s.q(`
		SELECT id, source_id, name, email FROM authors WHERE source_id = ? AND name = ?
	`), sourceID, name)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.DatabaseErrorf(err, "get author %q", name)
	}
	return &author, nil
}

func (s *sqlStore) SaveAuthor(ctx context.Context, author *models.Author) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO authors (source_id, name, email)
		VALUES (?, ?, ?)
		ON CONFLICT (source_id, name) DO NOTHING
	`), author.SourceID, author.Name, author.Email)
	if err != nil {
		return errors.DatabaseErrorf(err, "save author %q", author.Name)
	}

	existing, err := s.GetAuthor(ctx, author.SourceID, author.Name)
	if err != nil {
		return err
	}
	*author = *existing
	return nil
}

// Event operations

type eventRow struct {
	ID        int64     `db:"id"`
	SourceID  int64     `db:"source_id"`
	NativeID  string    `db:"native_id"`
	Timestamp time.Time `db:"timestamp"`
}

func (r eventRow) toModel() *models.Event {
	return &models.Event{
		ID:        r.ID,
		SourceID:  r.SourceID,
		NativeID:  r.NativeID,
		Timestamp: r.Timestamp,
	}
}

func (s *sqlStore) GetEvent(ctx context.Context, sourceID int64, nativeID string) (*models.Event, error) {
	var row eventRow
	err := s.db.GetContext(ctx, &row, s.q(`
		SELECT id, source_id, native_id, timestamp FROM events WHERE source_id = ? AND native_id = ?
	`), sourceID, nativeID)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.DatabaseErrorf(err, "get event %s", nativeID)
	}
	return row.toModel(), nil
}

func (s *sqlStore) SaveEvent(ctx context.Context, event *models.Event) error {
	for _, p := range event.Parents {
		if p.ID == 0 {
			return errors.InternalErrorf("event %s references unsaved parent %s", event.NativeID, p.NativeID)
		}
	}
	for _, a := range event.Authors {
		if a.ID == 0 {
			return errors.InternalErrorf("event %s references unsaved author %q", event.NativeID, a.Name)
		}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.DatabaseError(err, "begin transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.q(`
		INSERT INTO events (source_id, native_id, timestamp)
		VALUES (?, ?, ?)
		ON CONFLICT (source_id, native_id) DO NOTHING
	`), event.SourceID, event.NativeID, event.Timestamp)
	if err != nil {
		return errors.DatabaseErrorf(err, "save event %s", event.NativeID)
	}

	var id int64
	err = tx.GetContext(ctx, &id, s.q(`SELECT id FROM events WHERE source_id = ? AND native_id = ?`),
		event.SourceID, event.NativeID)
	if err != nil {
		return errors.DatabaseErrorf(err, "read back event %s", event.NativeID)
	}

	for pos, p := range event.Parents {
		_, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO event_parents (event_id, parent_id, position)
			VALUES (?, ?, ?)
			ON CONFLICT (event_id, parent_id) DO NOTHING
		`), id, p.ID, pos)
		if err != nil {
			return errors.DatabaseErrorf(err, "save parent edge %s -> %s", event.NativeID, p.NativeID)
		}
	}

	for _, a := range event.Authors {
		_, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO event_authors (event_id, author_id)
			VALUES (?, ?)
			ON CONFLICT (event_id, author_id) DO NOTHING
		`), id, a.ID)
		if err != nil {
			return errors.DatabaseErrorf(err, "save author link for %s", event.NativeID)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.DatabaseError(err, "commit event")
	}

	event.ID = id
	s.logger.WithFields(logrus.Fields{
		"event":   event.ShortID(),
		"parents": len(event.Parents),
	}).Debug("event saved")
	return nil
}

// ListEvents returns every event of a source in persistence order with
// parents and authors attached.
func (s *sqlStore) ListEvents(ctx context.Context, sourceID int64) ([]*models.Event, error) {
	var rows []eventRow
	err := s.db.SelectContext(ctx, &rows, s.q(`
		SELECT id, source_id, native_id, timestamp FROM events WHERE source_id = ? ORDER BY id
	`), sourceID)
	if err != nil {
		return nil, errors.DatabaseError(err, "list events")
	}

	events := make([]*models.Event, 0, len(rows))
	byID := make(map[int64]*models.Event, len(rows))
	for _, r := range rows {
		e := r.toModel()
		events = append(events, e)
		byID[e.ID] = e
	}

	var edges []struct {
		EventID  int64 `db:"event_id"`
		ParentID int64 `db:"parent_id"`
	}
	err = s.db.SelectContext(ctx, &edges, s.q(`
		SELECT ep.event_id, ep.parent_id
		FROM event_parents ep
		JOIN events e ON e.id = ep.event_id
		WHERE e.source_id = ?
		ORDER BY ep.event_id, ep.position
	`), sourceID)
	if err != nil {
		return nil, errors.DatabaseError(err, "list parent edges")
	}
	for _, edge := range edges {
		child, parent := byID[edge.EventID], byID[edge.ParentID]
		if child != nil && parent != nil {
			child.Parents = append(child.Parents, parent)
		}
	}

	var links []struct {
		EventID int64  `db:"event_id"`
		ID      int64  `db:"id"`
		Name    string `db:"name"`
		Email   string `db:"email"`
	}
	err = s.db.SelectContext(ctx, &links, s.q(`
		SELECT ea.event_id, a.id, a.name, a.email
		FROM event_authors ea
		JOIN authors a ON a.id = ea.author_id
		WHERE a.source_id = ?
		ORDER BY ea.event_id, a.id
	`), sourceID)
	if err != nil {
		return nil, errors.DatabaseError(err, "list event authors")
	}
	authors := make(map[int64]*models.Author)
	for _, l := range links {
		a, ok := authors[l.ID]
		if !ok {
			a = &models.Author{ID: l.ID, SourceID: sourceID, Name: l.Name, Email: l.Email}
			authors[l.ID] = a
		}
		if e := byID[l.EventID]; e != nil {
			e.Authors = append(e.Authors, a)
		}
	}

	return events, nil
}

// Item operations

func (s *sqlStore) GetItem(ctx context.Context, sourceID int64, path string) (*models.Item, error) {
	var item models.Item
	err := s.db.GetContext(ctx, &item, s.q(`
		SELECT id, source_id, path FROM items WHERE source_id = ? AND path = ?
	`), sourceID, path)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.DatabaseErrorf(err, "get item %s", path)
	}
	return &item, nil
}

func (s *sqlStore) SaveItem(ctx context.Context, item *models.Item) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO items (source_id, path)
		VALUES (?, ?)
		ON CONFLICT (source_id, path) DO NOTHING
	`), item.SourceID, item.Path)
	if err != nil {
		return errors.DatabaseErrorf(err, "save item %s", item.Path)
	}

	existing, err := s.GetItem(ctx, item.SourceID, item.Path)
	if err != nil {
		return err
	}
	*item = *existing
	return nil
}

// Action operations

func (s *sqlStore) SaveAction(ctx context.Context, action *models.Action) error {
	if action.Event == nil || action.ParentEvent == nil || action.Item == nil {
		return errors.InternalErrorf("action is missing its event, parent event or item")
	}
	if action.Event.ID == 0 || action.ParentEvent.ID == 0 || action.Item.ID == 0 {
		return errors.InternalErrorf("action on %s references unsaved entities", action.Item.Path)
	}

	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO actions (source_id, event_id, parent_event_id, item_id, kind)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (event_id, parent_event_id, item_id) DO NOTHING
	`), action.SourceID, action.Event.ID, action.ParentEvent.ID, action.Item.ID, string(action.Kind))
	if err != nil {
		return errors.DatabaseErrorf(err, "save action on %s", action.Item.Path)
	}

	err = s.db.GetContext(ctx, &action.ID, s.q(`
		SELECT id FROM actions WHERE event_id = ? AND parent_event_id = ? AND item_id = ?
	`), action.Event.ID, action.ParentEvent.ID, action.Item.ID)
	if err != nil {
		return errors.DatabaseErrorf(err, "read back action on %s", action.Item.Path)
	}
	return nil
}

type actionRow struct {
	ID             int64  `db:"id"`
	SourceID       int64  `db:"source_id"`
	Kind           string `db:"kind"`
	EventID        int64  `db:"event_id"`
	EventNativeID  string `db:"event_native_id"`
	ParentID       int64  `db:"parent_id"`
	ParentNativeID string `db:"parent_native_id"`
	ItemID         int64  `db:"item_id"`
	ItemPath       string `db:"item_path"`
}

// ListActions returns the actions of a source in persistence order. Events on
// the returned actions carry only their ID and native id.
func (s *sqlStore) ListActions(ctx context.Context, sourceID int64) ([]*models.Action, error) {
	var rows []actionRow
	err := s.db.SelectContext(ctx, &rows, s.q(`
		SELECT a.id, a.source_id, a.kind,
			e.id AS event_id, e.native_id AS event_native_id,
			p.id AS parent_id, p.native_id AS parent_native_id,
			i.id AS item_id, i.path AS item_path
		FROM actions a
		JOIN events e ON e.id = a.event_id
		JOIN events p ON p.id = a.parent_event_id
		JOIN items i ON i.id = a.item_id
		WHERE a.source_id = ?
		ORDER BY a.id
	`), sourceID)
	if err != nil {
		return nil, errors.DatabaseError(err, "list actions")
	}

	actions := make([]*models.Action, 0, len(rows))
	for _, r := range rows {
		actions = append(actions, &models.Action{
			ID:          r.ID,
			SourceID:    r.SourceID,
			Kind:        models.ParseActionKind(r.Kind),
			Event:       &models.Event{ID: r.EventID, SourceID: r.SourceID, NativeID: r.EventNativeID},
			ParentEvent: &models.Event{ID: r.ParentID, SourceID: r.SourceID, NativeID: r.ParentNativeID},
			Item:        &models.Item{ID: r.ItemID, SourceID: r.SourceID, Path: r.ItemPath},
		})
	}
	return actions, nil
}

func (s *sqlStore) CountEntities(ctx context.Context, sourceID int64) (*models.EntityCounts, error) {
	var counts models.EntityCounts
	err := s.db.GetContext(ctx, &counts, s.q(`
		SELECT
			(SELECT COUNT(*) FROM authors WHERE source_id = ?) AS authors,
			(SELECT COUNT(*) FROM events WHERE source_id = ?) AS events,
			(SELECT COUNT(*) FROM items WHERE source_id = ?) AS items,
			(SELECT COUNT(*) FROM actions WHERE source_id = ?) AS actions
	`), sourceID, sourceID, sourceID, sourceID)
	if err != nil {
		return nil, errors.DatabaseError(err, "count entities")
	}
	return &counts, nil
}

func (s *sqlStore) initSchema(schema string) error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}
