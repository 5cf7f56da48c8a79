package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/asakaida/kizuna/internal/entities"
	"github.com/asakaida/kizuna/internal/repositories"
	"github.com/google/uuid"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// Open opens (creating if needed) the SQLite database at path.
// SQLite allows a single writer, so the pool is capped at one connection.
func Open(path string) (*gorm.DB, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}

	db, err := gorm.Open(gormsqlite.Dialector{
		DriverName: "sqlite",
		DSN:        dsn,
	}, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	return db, nil
}

// EdgeRepository implements repositories.EdgeRepository on SQLite
type EdgeRepository struct {
	db *gorm.DB
}

// NewEdgeRepository creates a new SQLite edge repository
func NewEdgeRepository(db *gorm.DB) *EdgeRepository {
	return &EdgeRepository{db: db}
}

var _ repositories.EdgeRepository = (*EdgeRepository)(nil)

func (r *EdgeRepository) InsertEdge(ctx context.Context, from, to string, status entities.EdgeStatus) (*entities.Edge, error) {
	edge := &entities.Edge{FromUser: from, ToUser: to, Status: status}
	if err := edge.Validate(); err != nil {
		return nil, fmt.Errorf("invalid edge: %w", err)
	}

	m := edgeModel{
		ID:       uuid.NewString(),
		UserID:   from,
		FriendID: to,
		Status:   string(status),
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return nil, translateError("failed to insert edge", err)
	}
	return m.toEntity()
}

func (r *EdgeRepository) UpdateEdgeStatus(ctx context.Context, edgeID string, status entities.EdgeStatus) (*entities.Edge, error) {
	if edgeID == "" {
		return nil, fmt.Errorf("edge ID is required")
	}
	if !status.Valid() {
		return nil, fmt.Errorf("invalid edge status: %q", status)
	}

	var m edgeModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&edgeModel{}).
			Where("id = ?", edgeID).
			Updates(map[string]any{"status": string(status), "updated_at": time.Now().UTC()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.First(&m, "id = ?", edgeID).Error
	})
	if err != nil {
		return nil, translateError(fmt.Sprintf("failed to update edge %s", edgeID), err)
	}
	return m.toEntity()
}

func (r *EdgeRepository) DeleteEdges(ctx context.Context, filter *repositories.EdgeFilter) (int64, error) {
	if filter.IsEmpty() {
		return 0, fmt.Errorf("refusing to delete edges without a filter")
	}

	res := applyEdgeFilter(r.db.WithContext(ctx), filter).Delete(&edgeModel{})
	if res.Error != nil {
		return 0, translateError("failed to delete edges", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *EdgeRepository) QueryEdges(ctx context.Context, filter *repositories.EdgeFilter) ([]*entities.Edge, error) {
	rows := make([]edgeModel, 0)
	q := applyEdgeFilter(r.db.WithContext(ctx).Model(&edgeModel{}), filter)
	if err := q.Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, translateError("failed to query edges", err)
	}

	edges := make([]*entities.Edge, 0, len(rows))
	for i := range rows {
		edge, err := rows[i].toEntity()
		if err != nil {
			return nil, fmt.Errorf("malformed edge row: %w: %w", repositories.ErrUnavailable, err)
		}
		edges = append(edges, edge)
	}
	return edges, nil
}

func applyEdgeFilter(q *gorm.DB, filter *repositories.EdgeFilter) *gorm.DB {
	if filter.IsEmpty() {
		return q
	}
	if filter.ID != "" {
		q = q.Where("id = ?", filter.ID)
	}
	if filter.FromUser != "" {
		q = q.Where("user_id = ?", filter.FromUser)
	}
	if filter.ToUser != "" {
		q = q.Where("friend_id = ?", filter.ToUser)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	return q
}

// ProfileRepository implements repositories.ProfileRepository on SQLite
type ProfileRepository struct {
	db *gorm.DB
}

// NewProfileRepository creates a new SQLite profile repository
func NewProfileRepository(db *gorm.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

var _ repositories.ProfileRepository = (*ProfileRepository)(nil)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (r *ProfileRepository) Search(ctx context.Context, filter *repositories.ProfileFilter) ([]*entities.Profile, error) {
	pattern := "%" + likeEscaper.Replace(strings.ToLower(filter.UsernameContains)) + "%"
	q := r.db.WithContext(ctx).Model(&profileModel{}).
		Where(`username_folded LIKE ? ESCAPE '\'`, pattern)
	if len(filter.ExcludeIDs) > 0 {
		q = q.Where("id NOT IN ?", filter.ExcludeIDs)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	rows := make([]profileModel, 0)
	if err := q.Order("username_folded, id").Find(&rows).Error; err != nil {
		return nil, translateError("failed to search profiles", err)
	}
	return toProfiles(rows)
}

func (r *ProfileRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*entities.Profile, error) {
	result := make(map[string]*entities.Profile, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows := make([]profileModel, 0, len(ids))
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, translateError("failed to get profiles", err)
	}

	profiles, err := toProfiles(rows)
	if err != nil {
		return nil, err
	}
	for _, p := range profiles {
		result[p.ID] = p
	}
	return result, nil
}

// UpsertProfile writes a profile row. The relationship subsystem only reads
// profiles; this exists for seeding the embedded store.
func (r *ProfileRepository) UpsertProfile(ctx context.Context, p *entities.Profile) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid profile: %w", err)
	}

	m := profileModel{
		ID:             p.ID,
		Username:       p.Username,
		UsernameFolded: strings.ToLower(p.Username),
		AvatarURL:      p.AvatarURL,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "username_folded", "avatar_url", "updated_at"}),
	}).Create(&m).Error
	if err != nil {
		return translateError("failed to upsert profile", err)
	}
	return nil
}

func toProfiles(rows []profileModel) ([]*entities.Profile, error) {
	profiles := make([]*entities.Profile, 0, len(rows))
	for i := range rows {
		p := rows[i].toEntity()
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("malformed profile row: %w: %w", repositories.ErrUnavailable, err)
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}
