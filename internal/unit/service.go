// Package unit はユニット階層、リーダーの割り当て、隊員の登録を扱う。
package unit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/troophub/internal/model"
	"github.com/hitoshi/troophub/internal/repository"
)

// maxNameRunes はユニット名と隊員名の最大文字数。
const maxNameRunes = 100

// CreateInput はユニット作成の入力。ParentIDが空の場合は最上位ユニットになる。
type CreateInput struct {
	Name     string `json:"name"`
	ParentID string `json:"parentId"`
}

// StudentInput は隊員登録の入力。
type StudentInput struct {
	UnitID       string `json:"unitId"`
	ParentUserID string `json:"parentUserId"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
}

// Service はユニットに関するビジネスロジックを提供する。
type Service struct {
	unitRepo repository.UnitRepository
	userRepo repository.UserRepository
	now      func() time.Time
}

// NewService はServiceを生成する。
func NewService(unitRepo repository.UnitRepository, userRepo repository.UserRepository) *Service {
	return &Service{
		unitRepo: unitRepo,
		userRepo: userRepo,
		now:      time.Now,
	}
}

// Create はユニットを作成する。親ユニットを指定した場合は存在を確認する。
func (s *Service) Create(ctx context.Context, in CreateInput) (*model.Unit, error) {
	name, err := requireName("name", in.Name)
	if err != nil {
		return nil, err
	}

	parentID := strings.TrimSpace(in.ParentID)
	if parentID != "" {
		if _, err := s.findUnit(ctx, parentID); err != nil {
			return nil, err
		}
	}

	u := &model.Unit{
		ID:        uuid.NewString(),
		ParentID:  parentID,
		Name:      name,
		CreatedAt: s.now(),
	}
	if err := s.unitRepo.Create(ctx, u); err != nil {
		return nil, fmt.Errorf("failed to create unit: %w", err)
	}

	slog.Info("unit created",
		slog.String("unit_id", u.ID),
		slog.String("parent_id", u.ParentID),
	)
	return u, nil
}

// Tree はユニット階層をツリーとして返す。
// 親が見つからないユニットは最上位として扱う。兄弟は名前順に並ぶ。
func (s *Service) Tree(ctx context.Context) ([]*model.UnitNode, error) {
	units, err := s.unitRepo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list units: %w", err)
	}
	return BuildTree(units), nil
}

// BuildTree はフラットなユニット一覧からツリーを組み立てる。入力の順序を兄弟の順序として保つ。
func BuildTree(units []model.Unit) []*model.UnitNode {
	nodes := make(map[string]*model.UnitNode, len(units))
	for _, u := range units {
		nodes[u.ID] = &model.UnitNode{Unit: u, Children: []*model.UnitNode{}}
	}

	roots := []*model.UnitNode{}
	for _, u := range units {
		node := nodes[u.ID]
		parent, ok := nodes[u.ParentID]
		if u.ParentID == "" || !ok || parent == node {
			roots = append(roots, node)
			continue
		}
		parent.Children = append(parent.Children, node)
	}
	return roots
}

// AssignLeader はリーダーまたは管理者のユーザーをユニットに割り当てる。
func (s *Service) AssignLeader(ctx context.Context, unitID, userID string) error {
	if _, err := s.findUnit(ctx, unitID); err != nil {
		return err
	}
	if _, err := s.findUserWithRole(ctx, userID, model.RoleLeader, model.RoleAdmin); err != nil {
		return err
	}

	if err := s.unitRepo.AddLeader(ctx, unitID, userID); err != nil {
		return fmt.Errorf("failed to assign leader: %w", err)
	}

	slog.Info("leader assigned",
		slog.String("unit_id", unitID),
		slog.String("user_id", userID),
	)
	return nil
}

// AddStudent は隊員をユニットに登録し、保護者アカウントと紐づける。
func (s *Service) AddStudent(ctx context.Context, in StudentInput) (*model.Student, error) {
	first, err := requireName("firstName", in.FirstName)
	if err != nil {
		return nil, err
	}
	last, err := requireName("lastName", in.LastName)
	if err != nil {
		return nil, err
	}
	if in.UnitID == "" {
		return nil, model.NewMissingFieldError("unitId")
	}
	if in.ParentUserID == "" {
		return nil, model.NewMissingFieldError("parentUserId")
	}

	if _, err := s.findUnit(ctx, in.UnitID); err != nil {
		return nil, err
	}
	if _, err := s.findUserWithRole(ctx, in.ParentUserID, model.RoleParent); err != nil {
		return nil, err
	}

	st := &model.Student{
		ID:           uuid.NewString(),
		UnitID:       in.UnitID,
		ParentUserID: in.ParentUserID,
		FirstName:    first,
		LastName:     last,
		CreatedAt:    s.now(),
	}
	if err := s.unitRepo.CreateStudent(ctx, st); err != nil {
		return nil, fmt.Errorf("failed to create student: %w", err)
	}

	slog.Info("student added",
		slog.String("student_id", st.ID),
		slog.String("unit_id", st.UnitID),
	)
	return st, nil
}

// StudentsForParent は保護者に紐づく隊員を返す。
func (s *Service) StudentsForParent(ctx context.Context, parentUserID string) ([]model.Student, error) {
	students, err := s.unitRepo.ListStudentsByParent(ctx, parentUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list students: %w", err)
	}
	return students, nil
}

func (s *Service) findUnit(ctx context.Context, id string) (*model.Unit, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, model.NewUnitNotFoundError(id)
	}
	u, err := s.unitRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find unit: %w", err)
	}
	if u == nil {
		return nil, model.NewUnitNotFoundError(id)
	}
	return u, nil
}

func (s *Service) findUserWithRole(ctx context.Context, id string, roles ...model.Role) (*model.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, model.NewUserNotFoundError()
	}
	u, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if u == nil {
		return nil, model.NewUserNotFoundError()
	}
	for _, r := range roles {
		if u.Role == r {
			return u, nil
		}
	}
	return nil, model.NewInvalidInputError(fmt.Sprintf("user %s has role %s", id, u.Role))
}

func requireName(field, v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", model.NewMissingFieldError(field)
	}
	if len([]rune(v)) > maxNameRunes {
		return "", model.NewInvalidInputError(fmt.Sprintf("%s must be at most %d characters", field, maxNameRunes))
	}
	return v, nil
}
