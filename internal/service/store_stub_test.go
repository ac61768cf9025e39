package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/college-events-api/internal/models"
	"github.com/noah-isme/college-events-api/pkg/database"
)

// memStore is an in-memory stand-in for the relational schema shared by the
// repository stubs below.
type memStore struct {
	colleges map[string]bool
	users    map[string]models.User
	forums   map[string]models.Forum
	heads    map[string]map[string]bool
	venues   map[string]models.Venue
	events   map[string]models.Event
	staff    map[string]models.StaffAssignment
	audits   []models.AuditLog
	locks    []string
	seq      int
}

func newMemStore() *memStore {
	return &memStore{
		colleges: map[string]bool{},
		users:    map[string]models.User{},
		forums:   map[string]models.Forum{},
		heads:    map[string]map[string]bool{},
		venues:   map[string]models.Venue{},
		events:   map[string]models.Event{},
		staff:    map[string]models.StaffAssignment{},
	}
}

func (m *memStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

type memSnapshot struct {
	users  map[string]models.User
	heads  map[string]map[string]bool
	events map[string]models.Event
	staff  map[string]models.StaffAssignment
}

func (m *memStore) snapshot() memSnapshot {
	s := memSnapshot{
		users:  map[string]models.User{},
		heads:  map[string]map[string]bool{},
		events: map[string]models.Event{},
		staff:  map[string]models.StaffAssignment{},
	}
	for k, v := range m.users {
		s.users[k] = v
	}
	for u, forums := range m.heads {
		s.heads[u] = map[string]bool{}
		for f, verified := range forums {
			s.heads[u][f] = verified
		}
	}
	for k, v := range m.events {
		s.events[k] = v
	}
	for k, v := range m.staff {
		s.staff[k] = v
	}
	return s
}

func (m *memStore) restore(s memSnapshot) {
	m.users, m.heads, m.events, m.staff = s.users, s.heads, s.events, s.staff
}

// seed helpers

func (m *memStore) addUser(id, college string, role models.UserRole, status models.ApprovalStatus) {
	m.colleges[college] = true
	m.users[id] = models.User{ID: id, CollegeID: college, Email: id + "@example.edu", FullName: id, Role: role, ApprovalStatus: status, EmailVerified: true}
}

func (m *memStore) addForum(id, college string) {
	m.colleges[college] = true
	m.forums[id] = models.Forum{ID: id, CollegeID: college, Name: "forum " + id}
}

func (m *memStore) addHead(userID, forumID string, verified bool) {
	if m.heads[userID] == nil {
		m.heads[userID] = map[string]bool{}
	}
	m.heads[userID][forumID] = verified
}

func (m *memStore) addVenue(id, college string) {
	m.venues[id] = models.Venue{ID: id, CollegeID: college, Name: "venue " + id}
}

func (m *memStore) addEvent(e models.Event) {
	if e.Status == "" {
		e.Status = models.EventStatusConfirmed
	}
	m.events[e.ID] = e
}

func (m *memStore) addAssignment(a models.StaffAssignment) {
	if a.CreatedAt.IsZero() {
		m.seq++
		a.CreatedAt = time.Unix(int64(m.seq), 0)
	}
	m.staff[a.ID] = a
}

// txStub runs closures against the memStore and restores it when the
// closure fails, mirroring a rollback.
type txStub struct {
	store *memStore
	runs  int
}

func (t *txStub) Run(ctx context.Context, fn database.TxFunc) error {
	t.runs++
	snap := t.store.snapshot()
	if err := fn(nil); err != nil {
		t.store.restore(snap)
		return err
	}
	return nil
}

// ---- events ----

type eventRepoStub struct {
	*memStore
	listCalls int
}

func (r *eventRepoStub) Create(ctx context.Context, exec sqlx.ExtContext, event *models.Event) error {
	if event.ID == "" {
		event.ID = r.nextID("event")
	}
	r.events[event.ID] = *event
	return nil
}

func (r *eventRepoStub) FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, collegeID, id string) (*models.Event, error) {
	e, ok := r.events[id]
	if !ok || e.CollegeID != collegeID {
		return nil, sql.ErrNoRows
	}
	r.locks = append(r.locks, "event:"+id)
	return &e, nil
}

func (r *eventRepoStub) FindByIDAnyCollege(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Event, error) {
	e, ok := r.events[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &e, nil
}

func (r *eventRepoStub) FindDetail(ctx context.Context, exec sqlx.ExtContext, collegeID, id string) (*models.EventDetail, error) {
	e, ok := r.events[id]
	if !ok || e.CollegeID != collegeID {
		return nil, sql.ErrNoRows
	}
	return r.detail(e), nil
}

func (r *eventRepoStub) detail(e models.Event) *models.EventDetail {
	d := &models.EventDetail{Event: e}
	if e.HasVenue() {
		if v, ok := r.venues[*e.VenueID]; ok {
			d.Venue = &models.VenueSummary{ID: v.ID, Name: v.Name}
		}
	}
	return d
}

func (r *eventRepoStub) ListByCollege(ctx context.Context, collegeID string) ([]models.EventDetail, error) {
	r.listCalls++
	out := []models.EventDetail{}
	for _, e := range r.events {
		if e.CollegeID == collegeID {
			out = append(out, *r.detail(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (r *eventRepoStub) ListVenueBookings(ctx context.Context, exec sqlx.ExtContext, venueID, excludeID string) ([]models.Booking, error) {
	var out []models.Booking
	for _, e := range r.events {
		if e.HasVenue() && *e.VenueID == venueID && e.Status == models.EventStatusConfirmed && e.ID != excludeID {
			out = append(out, models.Booking{ID: e.ID, Name: e.Name, StartTime: e.StartTime, EndTime: e.EndTime})
		}
	}
	return out, nil
}

func (r *eventRepoStub) Update(ctx context.Context, exec sqlx.ExtContext, event *models.Event) error {
	if _, ok := r.events[event.ID]; !ok {
		return sql.ErrNoRows
	}
	r.events[event.ID] = *event
	return nil
}

func (r *eventRepoStub) Delete(ctx context.Context, exec sqlx.ExtContext, collegeID, id string) error {
	e, ok := r.events[id]
	if !ok || e.CollegeID != collegeID {
		return sql.ErrNoRows
	}
	delete(r.events, id)
	return nil
}

// ---- venues ----

type venueRepoStub struct{ *memStore }

func (r *venueRepoStub) LockForBooking(ctx context.Context, exec sqlx.ExtContext, collegeID, venueID string) (*models.VenueSummary, error) {
	v, ok := r.venues[venueID]
	if !ok || v.CollegeID != collegeID {
		return nil, sql.ErrNoRows
	}
	r.locks = append(r.locks, "venue:"+venueID)
	return &models.VenueSummary{ID: v.ID, Name: v.Name}, nil
}

// ---- forums ----

type forumRepoStub struct{ *memStore }

func (r *forumRepoStub) FindByID(ctx context.Context, exec sqlx.ExtContext, collegeID, forumID string) (*models.Forum, error) {
	f, ok := r.forums[forumID]
	if !ok || f.CollegeID != collegeID {
		return nil, sql.ErrNoRows
	}
	return &f, nil
}

func (r *forumRepoStub) IsVerifiedHead(ctx context.Context, exec sqlx.ExtContext, userID, forumID string) (bool, error) {
	return r.heads[userID][forumID], nil
}

func (r *forumRepoStub) ListHeadForums(ctx context.Context, exec sqlx.ExtContext, userID string, verified bool) (models.ForumSet, error) {
	set := models.NewForumSet()
	for forumID, v := range r.heads[userID] {
		if v == verified {
			set.Add(forumID)
		}
	}
	return set, nil
}

func (r *forumRepoStub) AddCandidates(ctx context.Context, exec sqlx.ExtContext, userID string, forumIDs []string) error {
	for _, id := range forumIDs {
		if _, exists := r.heads[userID][id]; !exists {
			r.addHead(userID, id, false)
		}
	}
	return nil
}

func (r *forumRepoStub) UpsertVerified(ctx context.Context, exec sqlx.ExtContext, userID, forumID string) error {
	r.addHead(userID, forumID, true)
	return nil
}

func (r *forumRepoStub) DeleteUnverified(ctx context.Context, exec sqlx.ExtContext, userID string) (int64, error) {
	var n int64
	for forumID, verified := range r.heads[userID] {
		if !verified {
			delete(r.heads[userID], forumID)
			n++
		}
	}
	return n, nil
}

func (r *forumRepoStub) DeleteByUser(ctx context.Context, exec sqlx.ExtContext, userID string) (int64, error) {
	n := int64(len(r.heads[userID]))
	delete(r.heads, userID)
	return n, nil
}

// ---- users ----

type userRepoStub struct {
	*memStore
	createErr error
}

func (r *userRepoStub) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, u := range r.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *userRepoStub) FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.User, error) {
	u, ok := r.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &u, nil
}

func (r *userRepoStub) FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.User, error) {
	u, ok := r.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	r.locks = append(r.locks, "user:"+id)
	return &u, nil
}

func (r *userRepoStub) Create(ctx context.Context, exec sqlx.ExtContext, user *models.User) error {
	if r.createErr != nil {
		return r.createErr
	}
	if user.ID == "" {
		user.ID = r.nextID("user")
	}
	r.users[user.ID] = *user
	return nil
}

func (r *userRepoStub) UpdateApprovalStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.ApprovalStatus) error {
	u, ok := r.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	u.ApprovalStatus = status
	r.users[id] = u
	return nil
}

func (r *userRepoStub) ListUnverifiedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.User, error) {
	var out []models.User
	for _, u := range r.users {
		if !u.EmailVerified && u.CreatedAt.Before(cutoff) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *userRepoStub) Delete(ctx context.Context, exec sqlx.ExtContext, id string) error {
	if _, ok := r.users[id]; !ok {
		return sql.ErrNoRows
	}
	delete(r.users, id)
	return nil
}

func (r *userRepoStub) MarkEmailVerified(ctx context.Context, id string) error {
	u, ok := r.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	u.EmailVerified = true
	r.users[id] = u
	return nil
}

// ---- colleges ----

type collegeRepoStub struct{ *memStore }

func (r *collegeRepoStub) Exists(ctx context.Context, id string) (bool, error) {
	return r.colleges[id], nil
}

func (r *collegeRepoStub) CountForums(ctx context.Context, collegeID string, forumIDs []string) (int, error) {
	n := 0
	for _, id := range forumIDs {
		if f, ok := r.forums[id]; ok && f.CollegeID == collegeID {
			n++
		}
	}
	return n, nil
}

// ---- staff ----

type staffRepoStub struct {
	*memStore
	bookingLookups int
}

func (r *staffRepoStub) Exists(ctx context.Context, exec sqlx.ExtContext, eventID, userID string) (bool, error) {
	for _, a := range r.staff {
		if a.EventID == eventID && a.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (r *staffRepoStub) Create(ctx context.Context, exec sqlx.ExtContext, a *models.StaffAssignment) error {
	if a.ID == "" {
		a.ID = r.nextID("assignment")
	}
	r.addAssignment(*a)
	return nil
}

func (r *staffRepoStub) FindForUserForUpdate(ctx context.Context, exec sqlx.ExtContext, id, userID string, status models.AssignmentStatus) (*models.StaffAssignment, error) {
	a, ok := r.staff[id]
	if !ok || a.UserID != userID || a.Status != status {
		return nil, sql.ErrNoRows
	}
	return &a, nil
}

func (r *staffRepoStub) Transition(ctx context.Context, exec sqlx.ExtContext, id, userID string, from, to models.AssignmentStatus) error {
	a, ok := r.staff[id]
	if !ok || a.UserID != userID || a.Status != from {
		return sql.ErrNoRows
	}
	a.Status = to
	r.staff[id] = a
	return nil
}

func (r *staffRepoStub) DeleteForUser(ctx context.Context, exec sqlx.ExtContext, id, userID string, status models.AssignmentStatus) error {
	a, ok := r.staff[id]
	if !ok || a.UserID != userID || a.Status != status {
		return sql.ErrNoRows
	}
	delete(r.staff, id)
	return nil
}

func (r *staffRepoStub) DeleteFromEvent(ctx context.Context, exec sqlx.ExtContext, eventID, id string) error {
	a, ok := r.staff[id]
	if !ok || a.EventID != eventID {
		return sql.ErrNoRows
	}
	delete(r.staff, id)
	return nil
}

func (r *staffRepoStub) DeleteByEvent(ctx context.Context, exec sqlx.ExtContext, eventID string) (int64, error) {
	var n int64
	for id, a := range r.staff {
		if a.EventID == eventID {
			delete(r.staff, id)
			n++
		}
	}
	return n, nil
}

func (r *staffRepoStub) DeleteByUser(ctx context.Context, exec sqlx.ExtContext, userID string) (int64, error) {
	var n int64
	for id, a := range r.staff {
		if a.UserID == userID {
			delete(r.staff, id)
			n++
		}
	}
	return n, nil
}

func (r *staffRepoStub) ListApprovedStaff(ctx context.Context, exec sqlx.ExtContext, eventID string) ([]string, error) {
	var out []string
	for _, a := range r.staff {
		if a.EventID == eventID && a.Status == models.AssignmentApproved {
			out = append(out, a.UserID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *staffRepoStub) ListApprovedBookings(ctx context.Context, exec sqlx.ExtContext, userID string) ([]models.Booking, error) {
	r.bookingLookups++
	var out []models.Booking
	for _, a := range r.staff {
		if a.UserID != userID || a.Status != models.AssignmentApproved {
			continue
		}
		e := r.events[a.EventID]
		out = append(out, models.Booking{ID: e.ID, Name: e.Name, StartTime: e.StartTime, EndTime: e.EndTime})
	}
	return out, nil
}

func (r *staffRepoStub) ListForUser(ctx context.Context, userID string, status models.AssignmentStatus) ([]models.StaffAssignmentView, error) {
	out := []models.StaffAssignmentView{}
	for _, a := range r.staff {
		if a.UserID != userID || a.Status != status {
			continue
		}
		e := r.events[a.EventID]
		out = append(out, models.StaffAssignmentView{StaffAssignment: a, EventName: e.Name, EventStart: e.StartTime, EventEnd: e.EndTime})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ---- misc ----

type auditRepoStub struct {
	*memStore
	err error
}

func (r *auditRepoStub) Create(ctx context.Context, log *models.AuditLog) error {
	if r.err != nil {
		return r.err
	}
	r.audits = append(r.audits, *log)
	return nil
}

func (m *memStore) auditActions() []string {
	out := make([]string, 0, len(m.audits))
	for _, a := range m.audits {
		out = append(out, a.Action)
	}
	return out
}

type conflictCounter struct {
	counts    map[string]int
	decisions []string
}

func (c *conflictCounter) RecordWorkflowDecision(workflow, decision string) {
	c.decisions = append(c.decisions, workflow+":"+decision)
}

func (c *conflictCounter) RecordSchedulingConflict(dimension string) {
	if c.counts == nil {
		c.counts = map[string]int{}
	}
	c.counts[dimension]++
}

func principal(userID string, role models.UserRole, college string) models.Principal {
	return models.Principal{UserID: userID, Role: role, CollegeID: college}
}

func strPtr(s string) *string { return &s }
