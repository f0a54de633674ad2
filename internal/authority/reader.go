// Package authority は本体アプリケーションが維持する権限情報への
// 読み取り専用アクセスを提供する。
package authority

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/linkhub/internal/model"
)

// Reader はuser_authorityテーブルを参照する読み取り専用アダプター。
// 行が存在しないユーザーはゼロ値のAuthority（非会員・非スタッフ・
// 懲戒なし）として扱う。
type Reader struct {
	db *sql.DB
}

// NewReader はReaderの新しいインスタンスを生成する。
func NewReader(db *sql.DB) *Reader {
	return &Reader{db: db}
}

// Authority は指定ユーザーの権限状態を取得する。
func (r *Reader) Authority(ctx context.Context, userID string) (*model.Authority, error) {
	query := `
		SELECT membership_level, staff_department, staff_rank, confined, parental_link_disabled
		FROM user_authority
		WHERE user_id = $1`

	auth := &model.Authority{}
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&auth.MembershipLevel,
		&auth.StaffDepartment,
		&auth.StaffRank,
		&auth.Confined,
		&auth.ParentalLinkDisabled,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return &model.Authority{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("権限情報の取得に失敗しました: %w", err)
	}
	return auth, nil
}

// IsConfined は指定ユーザーが懲戒中かを返す。
func (r *Reader) IsConfined(ctx context.Context, userID string) (bool, error) {
	auth, err := r.Authority(ctx, userID)
	if err != nil {
		return false, err
	}
	return auth.Confined, nil
}
