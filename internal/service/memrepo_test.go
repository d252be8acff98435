package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/bookworm/internal/model"
	"github.com/mmeshcher/bookworm/internal/repository"
)

// memRepo хранит данные в памяти и повторяет транзакционную семантику PostgresRepository.
type memRepo struct {
	mu sync.Mutex

	nextID   int64
	books    map[int64]*model.Book
	members  map[int64]*model.Member
	loans    map[int64]*model.Loan
	fines    map[int64]*model.Fine
	payments []model.Payment
}

func newMemRepo() *memRepo {
	return &memRepo{
		books:   map[int64]*model.Book{},
		members: map[int64]*model.Member{},
		loans:   map[int64]*model.Loan{},
		fines:   map[int64]*model.Fine{},
	}
}

func (r *memRepo) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *memRepo) Ping(ctx context.Context) error { return nil }
func (r *memRepo) Close() error                   { return nil }

func (r *memRepo) CreateBook(ctx context.Context, b *model.Book) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.books {
		if existing.ISBN == b.ISBN {
			return 0, repository.ErrDuplicate
		}
	}
	if b.TotalCopies < 0 {
		return 0, repository.ErrCopiesInUse
	}

	cp := *b
	cp.ID = r.id()
	cp.AvailableCopies = cp.TotalCopies
	cp.CreatedAt = time.Now()
	r.books[cp.ID] = &cp
	return cp.ID, nil
}

func (r *memRepo) GetBook(ctx context.Context, id int64) (*model.Book, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.books[id]
	if !ok {
		return nil, repository.ErrBookNotFound
	}
	cp := *b
	return &cp, nil
}

func (r *memRepo) UpdateBook(ctx context.Context, b *model.Book) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.books[b.ID]
	if !ok {
		return repository.ErrBookNotFound
	}
	available := cur.AvailableCopies + (b.TotalCopies - cur.TotalCopies)
	if available < 0 || available > b.TotalCopies {
		return repository.ErrCopiesInUse
	}
	cur.Title, cur.Author, cur.ISBN, cur.Genre = b.Title, b.Author, b.ISBN, b.Genre
	cur.TotalCopies = b.TotalCopies
	cur.AvailableCopies = available
	return nil
}

func (r *memRepo) SearchBooks(ctx context.Context, q repository.BookQuery) ([]model.Book, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	term := strings.ToLower(strings.TrimSpace(q.Term))
	var res []model.Book
	for _, b := range r.books {
		title, author := strings.ToLower(b.Title), strings.ToLower(b.Author)
		match := term == ""
		switch q.Field {
		case repository.SearchTitle:
			match = match || strings.Contains(title, term)
		case repository.SearchAuthor:
			match = match || strings.Contains(author, term)
		default:
			match = match || strings.Contains(title, term) || strings.Contains(author, term) || b.ISBN == term
		}
		if match {
			res = append(res, *b)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Title < res[j].Title })
	return res, nil
}

func (r *memRepo) CreateMember(ctx context.Context, m *model.Member) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.members {
		if strings.EqualFold(existing.Email, m.Email) {
			return 0, repository.ErrDuplicate
		}
	}
	cp := *m
	cp.ID = r.id()
	r.members[cp.ID] = &cp
	return cp.ID, nil
}

func (r *memRepo) GetMember(ctx context.Context, id int64) (*model.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[id]
	if !ok {
		return nil, repository.ErrMemberNotFound
	}
	cp := *m
	return &cp, nil
}

func (r *memRepo) GetMemberByEmail(ctx context.Context, email string) (*model.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range r.members {
		if strings.EqualFold(m.Email, email) {
			cp := *m
			return &cp, nil
		}
	}
	return nil, repository.ErrMemberNotFound
}

func (r *memRepo) UpdateMember(ctx context.Context, m *model.Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.members[m.ID]
	if !ok {
		return repository.ErrMemberNotFound
	}
	cur.FirstName, cur.LastName, cur.Email, cur.Phone = m.FirstName, m.LastName, m.Email, m.Phone
	cur.Role, cur.Status = m.Role, m.Status
	return nil
}

func (r *memRepo) SetMemberPassword(ctx context.Context, id int64, hash []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[id]
	if !ok {
		return repository.ErrMemberNotFound
	}
	m.PasswordHash = hash
	return nil
}

func (r *memRepo) SearchMembers(ctx context.Context, query string, limit int) ([]model.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	query = strings.ToLower(strings.TrimSpace(query))
	var res []model.Member
	for _, m := range r.members {
		if query == "" || strings.Contains(strings.ToLower(m.FullName()+" "+m.Email), query) {
			res = append(res, *m)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (r *memRepo) CheckOut(ctx context.Context, bookID, memberID int64, checkoutDate, dueDate time.Time) (*model.Loan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[memberID]
	if !ok {
		return nil, repository.ErrMemberNotFound
	}
	if m.Status != model.MembershipActive {
		return nil, repository.ErrMemberSuspended
	}
	b, ok := r.books[bookID]
	if !ok {
		return nil, repository.ErrBookNotFound
	}
	if b.AvailableCopies <= 0 {
		return nil, repository.ErrNotAvailable
	}

	b.AvailableCopies--
	l := &model.Loan{
		ID:           r.id(),
		BookID:       bookID,
		MemberID:     memberID,
		CheckoutDate: checkoutDate,
		DueDate:      dueDate,
		Status:       model.LoanStatusActive,
		BookTitle:    b.Title,
		MemberName:   m.FullName(),
	}
	r.loans[l.ID] = l
	cp := *l
	return &cp, nil
}

func (r *memRepo) ReturnLoan(ctx context.Context, loanID int64, returnDate time.Time, assess repository.FineAssessor) (*model.ReturnResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.loans[loanID]
	if !ok || l.ReturnDate != nil {
		return nil, repository.ErrLoanNotFound
	}

	rd := returnDate
	l.ReturnDate = &rd
	l.Status = model.LoanStatusReturned
	r.books[l.BookID].AvailableCopies++

	res := &model.ReturnResult{Loan: *l}

	amount := decimal.Zero
	if assess != nil {
		amount = assess(l.DueDate, returnDate)
	}
	if model.Cents(amount) > 0 {
		var existing *model.Fine
		for _, f := range r.fines {
			if f.LoanID == l.ID {
				existing = f
			}
		}
		switch {
		case existing == nil:
			f := &model.Fine{
				ID:         r.id(),
				LoanID:     l.ID,
				MemberID:   l.MemberID,
				AmountOwed: amount,
				AmountPaid: decimal.Zero,
				Status:     model.FineStatusOutstanding,
				CreatedAt:  returnDate,
				BookTitle:  l.BookTitle,
				MemberName: l.MemberName,
			}
			r.fines[f.ID] = f
			cp := *f
			res.Fine = &cp
		case existing.Status == model.FineStatusOutstanding:
			existing.AmountOwed = amount
			cp := *existing
			res.Fine = &cp
		}
	}

	return res, nil
}

func (r *memRepo) ListLoans(ctx context.Context, f repository.LoanFilter) ([]model.Loan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Loan
	for _, l := range r.loans {
		if f.MemberID != 0 && l.MemberID != f.MemberID {
			continue
		}
		if f.BookID != 0 && l.BookID != f.BookID {
			continue
		}
		if f.ActiveOnly && l.ReturnDate != nil {
			continue
		}
		if f.ReturnedOnly && l.ReturnDate == nil {
			continue
		}
		res = append(res, *l)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID > res[j].ID })
	if f.Limit > 0 && len(res) > f.Limit {
		res = res[:f.Limit]
	}
	return res, nil
}

func (r *memRepo) GetFine(ctx context.Context, id int64) (*model.Fine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.fines[id]
	if !ok {
		return nil, repository.ErrFineNotFound
	}
	cp := *f
	return &cp, nil
}

func (r *memRepo) ListFines(ctx context.Context, filter repository.FineFilter) ([]model.Fine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Fine
	for _, f := range r.fines {
		if filter.MemberID != 0 && f.MemberID != filter.MemberID {
			continue
		}
		if filter.Status != "" && f.Status != filter.Status {
			continue
		}
		res = append(res, *f)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID > res[j].ID })
	return res, nil
}

func (r *memRepo) SettleFine(ctx context.Context, fineID int64, charge repository.ChargeFunc) (*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.fines[fineID]
	if !ok {
		return nil, repository.ErrFineNotFound
	}
	if f.Status == model.FineStatusPaid {
		return nil, repository.ErrAlreadyPaid
	}

	p, err := charge(ctx, *f, f.Outstanding())
	if err != nil {
		return nil, err
	}

	p.ID = r.id()
	p.FineID = f.ID
	p.CreatedAt = time.Now()
	r.payments = append(r.payments, *p)

	f.AmountPaid = f.AmountOwed
	f.Status = model.FineStatusPaid
	paidAt := p.CreatedAt
	f.PaidAt = &paidAt

	return p, nil
}

func (r *memRepo) ListPayments(ctx context.Context, memberID int64, limit int) ([]model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Payment
	for _, p := range r.payments {
		if f, ok := r.fines[p.FineID]; ok && f.MemberID == memberID {
			res = append(res, p)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID > res[j].ID })
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (r *memRepo) TopDebtors(ctx context.Context, limit int) ([]model.Debtor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	debts := map[int64]decimal.Decimal{}
	for _, f := range r.fines {
		if f.Status == model.FineStatusOutstanding {
			debts[f.MemberID] = debts[f.MemberID].Add(f.Outstanding())
		}
	}

	res := make([]model.Debtor, 0, len(debts))
	for id, total := range debts {
		m := r.members[id]
		res = append(res, model.Debtor{MemberID: id, FirstName: m.FirstName, LastName: m.LastName, Email: m.Email, TotalDebt: total})
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].TotalDebt.Equal(res[j].TotalDebt) {
			return res[i].TotalDebt.GreaterThan(res[j].TotalDebt)
		}
		return res[i].MemberID < res[j].MemberID
	})
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (r *memRepo) Stats(ctx context.Context, today time.Time) (*model.LibraryStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := &model.LibraryStats{OutstandingFines: decimal.Zero}
	for _, b := range r.books {
		s.TotalTitles++
		s.TotalCopies += b.TotalCopies
		s.CheckedOut += b.CheckedOut()
	}
	for _, m := range r.members {
		if m.Role == model.RoleMember {
			s.TotalMembers++
		}
	}
	for _, l := range r.loans {
		if l.ReturnDate == nil && l.DueDate.Equal(today) {
			s.LoansDueToday++
		}
	}
	for _, f := range r.fines {
		if f.Status == model.FineStatusOutstanding {
			s.OutstandingFines = s.OutstandingFines.Add(f.Outstanding())
		}
	}
	return s, nil
}

// checkInvariants проверяет ограничения, которые в PostgreSQL задаются CHECK-констрейнтами.
func (r *memRepo) checkInvariants(t *testing.T) {
	t.Helper()

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, b := range r.books {
		if b.AvailableCopies < 0 || b.AvailableCopies > b.TotalCopies {
			t.Fatalf("book %d: available %d outside [0, %d]", b.ID, b.AvailableCopies, b.TotalCopies)
		}
	}
	for _, l := range r.loans {
		if (l.Status == model.LoanStatusActive) != (l.ReturnDate == nil) {
			t.Fatalf("loan %d: status %s with return date %v", l.ID, l.Status, l.ReturnDate)
		}
		if l.ReturnDate != nil && l.ReturnDate.Before(l.CheckoutDate) {
			t.Fatalf("loan %d: returned before checkout", l.ID)
		}
	}
	for _, f := range r.fines {
		if f.AmountPaid.GreaterThan(f.AmountOwed) {
			t.Fatalf("fine %d: paid %s exceeds owed %s", f.ID, f.AmountPaid, f.AmountOwed)
		}
	}
}
