// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package dbinterface

import (
	"fmt"
	"strings"
)

// BuildQueryWithPlaceholders expands template with numRows parameter tuples,
// each holding placeholdersPerRow question marks. Used for batched VALUES
// relations and IN clauses where the row count is only known at runtime.
func BuildQueryWithPlaceholders(template string, placeholdersPerRow, numRows int) string {
	if placeholdersPerRow <= 0 || numRows <= 0 {
		return fmt.Sprintf(template, "")
	}

	row := "(" + strings.TrimSuffix(strings.Repeat("?, ", placeholdersPerRow), ", ") + ")"
	rows := make([]string, numRows)
	for i := range rows {
		rows[i] = row
	}

	return fmt.Sprintf(template, strings.Join(rows, ", "))
}
