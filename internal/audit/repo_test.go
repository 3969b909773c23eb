package audit

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildListQuery(t *testing.T) {
	tests := []struct {
		name      string
		filter    ListFilter
		wantWhere string
		wantArgs  []any
	}{
		{
			name:     "no filters uses default page",
			filter:   ListFilter{},
			wantArgs: []any{50, 0},
		},
		{
			name:      "session only",
			filter:    ListFilter{SessionID: "s1", Limit: 10, Offset: 20},
			wantWhere: " WHERE session_id = $1 ",
			wantArgs:  []any{"s1", 10, 20},
		},
		{
			name:      "session and user",
			filter:    ListFilter{SessionID: "s1", UserID: "u1", Limit: 500, Offset: -1},
			wantWhere: " WHERE session_id = $1 AND user_id = $2 ",
			wantArgs:  []any{"s1", "u1", 50, 0},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := buildListQuery(tt.filter)
			assert.Equal(t, tt.wantArgs, args)
			if tt.wantWhere == "" {
				assert.NotContains(t, query, "WHERE")
			} else {
				assert.Contains(t, query, tt.wantWhere)
			}
			n := len(tt.wantArgs)
			assert.True(t, strings.HasSuffix(query, "LIMIT $"+strconv.Itoa(n-1)+" OFFSET $"+strconv.Itoa(n)), query)
		})
	}
}

