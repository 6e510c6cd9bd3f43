package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDealPatch_ApplyKeepsUnsuppliedFields(t *testing.T) {
	uid := int64(7)
	begin := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	d := &Deal{
		DealID:      8029,
		Title:       "T1",
		Priority:    "Alto",
		Responsible: "Ana Souza",
		UserID:      &uid,
		FileURL:     "attachments/a.pdf",
		BeginDate:   &begin,
	}

	DealPatch{DealID: 8029, Title: String("T2"), StageID: String("C25:NEW")}.Apply(d)

	assert.Equal(t, "T2", d.Title)
	assert.Equal(t, "C25:NEW", d.StageID)
	assert.Equal(t, "Alto", d.Priority)
	assert.Equal(t, "Ana Souza", d.Responsible)
	assert.Equal(t, int64(7), *d.UserID)
	assert.Equal(t, "attachments/a.pdf", d.FileURL)
	assert.Equal(t, begin, *d.BeginDate)
}

func TestDealPatch_ApplyCopiesPointers(t *testing.T) {
	when := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	p := DealPatch{DealID: 1, CloseDate: &when}
	d := &Deal{}
	p.Apply(d)

	when = when.Add(time.Hour)
	assert.Equal(t, 12, d.CloseDate.Hour())
}

func TestActivityPatch_Apply(t *testing.T) {
	a := &Activity{Subject: "old", FileID: "attachments/x.png", ReadConfirmed: true}
	ActivityPatch{
		ActivityID:   500,
		DealID:       3,
		RemoteDealID: 9000,
		Subject:      String("new"),
		Direction:    String(DirectionIncoming),
	}.Apply(a)

	assert.Equal(t, int64(500), a.ActivityID)
	assert.Equal(t, int64(3), a.DealID)
	assert.Equal(t, "new", a.Subject)
	assert.True(t, a.IsIncoming())
	assert.True(t, a.ReadConfirmed)
	assert.Equal(t, "attachments/x.png", a.FileID)
}
