package journal

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"
	"time"

	xerrors "FlashRoute/internal/errors"

	"github.com/go-sql-driver/mysql"
)

// MySQLStore 使用 MySQL 记录步骤审计信息。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 创建一个新的 MySQLStore。
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS flashloan_steps (
        id VARCHAR(64) PRIMARY KEY,
        route VARCHAR(32) NOT NULL,
        tokens TEXT NOT NULL,
        amounts TEXT NOT NULL,
        agent VARCHAR(66) DEFAULT '',
        fee_rate VARCHAR(80) DEFAULT '0',
        status VARCHAR(16) NOT NULL,
        error_code VARCHAR(64) DEFAULT '',
        last_error TEXT,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        INDEX idx_step_status (status),
        INDEX idx_step_updated (updated_at)
)`

	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 flashloan_steps 表失败")
	}
	return nil
}

// Create 插入新的步骤记录。
func (s *MySQLStore) Create(ctx context.Context, step *Step) error {
	if step == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "step 不能为空")
	}
	if strings.TrimSpace(step.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "步骤 ID 不能为空")
	}

	now := time.Now().Unix()
	step.CreatedAt = now
	step.UpdatedAt = now

	const stmt = `INSERT INTO flashloan_steps
        (id, route, tokens, amounts, agent, fee_rate, status, error_code, last_error, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, '', '', ?, ?)`

	_, err := s.db.ExecContext(ctx, stmt,
		step.ID,
		step.Route,
		strings.Join(step.Tokens, ","),
		strings.Join(step.Amounts, ","),
		step.Agent,
		step.FeeRate,
		step.Status,
		step.CreatedAt,
		step.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrStepConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入步骤失败")
	}
	return nil
}

// Get 查询指定步骤。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Step, error) {
	const stmt = `SELECT id, route, tokens, amounts, agent, fee_rate, status, error_code, last_error, created_at, updated_at
        FROM flashloan_steps WHERE id = ?`

	row := s.db.QueryRowContext(ctx, stmt, id)
	step, err := scanStep(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrStepNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询步骤失败")
	}
	return step, nil
}

// Finalize 落盘步骤的终态。
func (s *MySQLStore) Finalize(ctx context.Context, id string, status Status, errorCode, lastError string) error {
	const stmt = `UPDATE flashloan_steps
        SET status = ?, error_code = ?, last_error = ?, updated_at = ?
        WHERE id = ?`

	result, err := s.db.ExecContext(ctx, stmt, status, errorCode, lastError, time.Now().Unix(), id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新步骤失败")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取更新结果失败")
	}
	if affected == 0 {
		return ErrStepNotFound
	}
	return nil
}

// List 返回最近的步骤记录。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Step, error) {
	opts.applyDefaults()

	query := `SELECT id, route, tokens, amounts, agent, fee_rate, status, error_code, last_error, created_at, updated_at
        FROM flashloan_steps`
	args := make([]any, 0, 2)
	if opts.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, opts.Status)
	}
	query += ` ORDER BY updated_at DESC, id ASC LIMIT ?`
	args = append(args, opts.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询步骤列表失败")
	}
	defer rows.Close()

	steps := make([]*Step, 0, opts.Limit)
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析步骤记录失败")
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历步骤列表失败")
	}
	return steps, nil
}

// Close 释放数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStep(row rowScanner) (*Step, error) {
	var step Step
	var tokens, amounts string
	var lastError sql.NullString

	if err := row.Scan(
		&step.ID,
		&step.Route,
		&tokens,
		&amounts,
		&step.Agent,
		&step.FeeRate,
		&step.Status,
		&step.ErrorCode,
		&lastError,
		&step.CreatedAt,
		&step.UpdatedAt,
	); err != nil {
		return nil, err
	}

	step.LastError = lastError.String
	if tokens != "" {
		step.Tokens = strings.Split(tokens, ",")
	}
	if amounts != "" {
		step.Amounts = strings.Split(amounts, ",")
	}
	return &step, nil
}

var _ Store = (*MySQLStore)(nil)
