package labresult

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestPGWhere(t *testing.T) {
	where, args := pgWhere(Filter{})
	assert.Empty(t, where)
	assert.Empty(t, args)

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	batch := uuid.New()
	where, args = pgWhere(Filter{Organism: "E. coli", Facility: "North", From: &from, BatchID: &batch})
	assert.Equal(t, " WHERE LOWER(organism) = LOWER($1) AND LOWER(facility) = LOWER($2) AND test_date >= $3 AND batch_id = $4", where)
	assert.Equal(t, []interface{}{"E. coli", "North", from, batch}, args)
}
