package postgres

import (
	"context"
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
	const query = `INSERT INTO audit_logs (id, action, entity_type, entity_id, old_value, new_value, metadata, user_id, user_name, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING seq`
	err := t.q.QueryRow(ctx, query,
		log.ID,
		log.Action,
		log.EntityType,
		log.EntityID,
		log.OldValue,
		log.NewValue,
		bytesToNil(log.Metadata),
		log.UserID,
		log.UserName,
		log.Timestamp,
	).Scan(&log.Seq)
	return translate("insert audit log", err, repository.ErrConflict)
}

// ListAuditLogs returns audit entries matching the filter, most recent first,
// along with the total number of matches.
func (r *Repository) ListAuditLogs(ctx context.Context, filter repository.AuditFilter) ([]domain.AuditLog, int, error) {
	var (
		conditions []string
		args       []any
	)
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("action", filter.Action)
	add("entity_type", filter.EntityType)
	add("entity_id", filter.EntityID)

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM audit_logs " + where
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, repository.Persistence("count audit logs", err)
	}

	query := fmt.Sprintf(`SELECT seq, id, action, entity_type, entity_id, old_value, new_value, metadata, user_id, user_name, timestamp
		FROM audit_logs %s ORDER BY seq DESC LIMIT $%d OFFSET $%d`, where, len(args)+1, len(args)+2)
	rows, err := r.pool.Query(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, 0, repository.Persistence("query audit logs", err)
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0)
	for rows.Next() {
		var (
			log      domain.AuditLog
			metadata []byte
		)
		if err := rows.Scan(
			&log.Seq,
			&log.ID,
			&log.Action,
			&log.EntityType,
			&log.EntityID,
			&log.OldValue,
			&log.NewValue,
			&metadata,
			&log.UserID,
			&log.UserName,
			&log.Timestamp,
		); err != nil {
			return nil, 0, repository.Persistence("scan audit log", err)
		}
		if len(metadata) > 0 {
			log.Metadata = append([]byte(nil), metadata...)
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, repository.Persistence("iterate audit logs", err)
	}
	return logs, total, nil
}
