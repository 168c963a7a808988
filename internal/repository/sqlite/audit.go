package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/splax/confvault/internal/domain"
	"github.com/splax/confvault/internal/repository"
)

// InsertAuditLog appends an audit entry and records its sequence number.
func (t *txRepository) InsertAuditLog(ctx context.Context, log *domain.AuditLog) error {
	if log == nil {
		return fmt.Errorf("%w: audit log required", repository.ErrInvalidArgument)
	}
	res, err := t.q.ExecContext(ctx,
		`INSERT INTO audit_logs (id, action, entity_type, entity_id, old_value, new_value, metadata, user_id, user_name, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.Action, log.EntityType, log.EntityID,
		log.OldValue, log.NewValue, nullableBytes(log.Metadata),
		log.UserID, log.UserName, log.Timestamp,
	)
	if err != nil {
		return translate("insert audit log", err, repository.ErrConflict)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return repository.Persistence("read audit sequence", err)
	}
	log.Seq = seq
	return nil
}

// ListAuditLogs returns audit entries matching the filter, most recent first,
// along with the total number of matches.
func (r *Repository) ListAuditLogs(ctx context.Context, filter repository.AuditFilter) ([]domain.AuditLog, int, error) {
	var conditions []string
	var args []any

	if filter.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.EntityType != "" {
		conditions = append(conditions, "entity_type = ?")
		args = append(args, filter.EntityType)
	}
	if filter.EntityID != "" {
		conditions = append(conditions, "entity_id = ?")
		args = append(args, filter.EntityID)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM audit_logs %s", where) //nolint:gosec // WHERE built from parameterised conditions
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, repository.Persistence("count audit logs", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions
		"SELECT seq, id, action, entity_type, entity_id, old_value, new_value, metadata, user_id, user_name, timestamp FROM audit_logs %s ORDER BY seq DESC LIMIT ? OFFSET ?",
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, repository.Persistence("query audit logs", err)
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0)
	for rows.Next() {
		var (
			log                domain.AuditLog
			oldValue, newValue sql.NullString
			metadata           sql.NullString
		)
		if err := rows.Scan(&log.Seq, &log.ID, &log.Action, &log.EntityType, &log.EntityID,
			&oldValue, &newValue, &metadata, &log.UserID, &log.UserName, &log.Timestamp); err != nil {
			return nil, 0, repository.Persistence("scan audit log", err)
		}
		if oldValue.Valid {
			value := oldValue.String
			log.OldValue = &value
		}
		if newValue.Valid {
			value := newValue.String
			log.NewValue = &value
		}
		if metadata.Valid && metadata.String != "" {
			log.Metadata = []byte(metadata.String)
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, repository.Persistence("iterate audit logs", err)
	}
	return logs, total, nil
}
