package db

import (
	"context"
	"strings"

	"lab_visit_tracker/models"

	"gorm.io/gorm/clause"
)

func (r *Repo) FindStudentByNIM(ctx context.Context, nim string) (*models.Student, error) {
	var s models.Student
	if err := r.DB.WithContext(ctx).Where("nim = ?", nim).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// LockStudentByNIM serializes tap-in and tap-out for one visitor.
func (r *Repo) LockStudentByNIM(ctx context.Context, nim string) (*models.Student, error) {
	var s models.Student
	if err := r.DB.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("nim = ?", nim).
		First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// UpsertStudents inserts or refreshes roster rows keyed by NIM.
func (r *Repo) UpsertStudents(ctx context.Context, students []models.Student) (int64, error) {
	if len(students) == 0 {
		return 0, nil
	}
	res := r.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "nim"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "program", "entry_year", "cohort", "updated_at"}),
		}).
		CreateInBatches(&students, 200)
	return res.RowsAffected, res.Error
}

type ListStudentsResult struct {
	Students []models.Student `json:"students"`
	Total    int64            `json:"total"`
}

func (r *Repo) ListStudents(ctx context.Context, q string, page, size int) (ListStudentsResult, error) {
	page, size = normalizePage(page, size, 200)

	tx := r.DB.WithContext(ctx).Model(&models.Student{})
	if q = strings.TrimSpace(q); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		tx = tx.Where("LOWER(nim) LIKE ? OR LOWER(name) LIKE ?", like, like)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return ListStudentsResult{}, err
	}
	var out []models.Student
	if err := tx.Order("nim ASC").Offset((page - 1) * size).Limit(size).Find(&out).Error; err != nil {
		return ListStudentsResult{}, err
	}
	return ListStudentsResult{Students: out, Total: total}, nil
}
