package postgres

import (
	"context"
	"database/sql"

	"github.com/znz-systems/courier/internal/models"
)

type RecipientStore struct {
	db *sql.DB
}

func NewRecipientStore(db *sql.DB) *RecipientStore {
	return &RecipientStore{db: db}
}

// GetRecipient loads a user and their most recent loan application.
func (s *RecipientStore) GetRecipient(ctx context.Context, id int64) (*models.Recipient, error) {
	var (
		r           models.Recipient
		phone       sql.NullString
		amount      sql.NullFloat64
		rate        sql.NullFloat64
		term        sql.NullInt64
		loanStatus  sql.NullString
		currentStep sql.NullInt64
		appliedAt   sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT u.id, u.email, u.first_name, u.last_name, u.phone,
		        la.loan_amount, la.interest_rate, la.loan_term, la.status, la.current_step, la.created_at
		 FROM users u
		 LEFT JOIN LATERAL (
		     SELECT loan_amount, interest_rate, loan_term, status, current_step, created_at
		     FROM loan_applications
		     WHERE user_id = u.id
		     ORDER BY created_at DESC
		     LIMIT 1
		 ) la ON TRUE
		 WHERE u.id = $1`,
		id,
	).Scan(
		&r.ID, &r.Email, &r.FirstName, &r.LastName, &phone,
		&amount, &rate, &term, &loanStatus, &currentStep, &appliedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Phone = phone.String
	if amount.Valid || loanStatus.Valid {
		r.Loan = &models.LoanDetails{
			Amount:          amount.Float64,
			InterestRate:    rate.Float64,
			TermMonths:      int(term.Int64),
			Status:          loanStatus.String,
			CurrentStep:     int(currentStep.Int64),
			ApplicationDate: appliedAt.Time,
		}
	}
	return &r, nil
}
