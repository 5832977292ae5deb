// Package gridio produces initial grids (random or from a pattern file) and
// renders grids as text.
package gridio
