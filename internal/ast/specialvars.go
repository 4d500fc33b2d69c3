// Special variable constants

package ast

import "fmt"

const (
	V_ILLEGAL = iota
	V_ARGC
	V_CONVFMT
	V_FILENAME
	V_FNR
	V_FS
	V_NF
	V_NR
	V_OFMT
	V_OFS
	V_ORS
	V_RLENGTH
	V_RS
	V_RSTART
	V_SUBSEP

	V_LAST = V_SUBSEP
)

var specialVars = map[string]int{
	"ARGC":     V_ARGC,
	"CONVFMT":  V_CONVFMT,
	"FILENAME": V_FILENAME,
	"FNR":      V_FNR,
	"FS":       V_FS,
	"NF":       V_NF,
	"NR":       V_NR,
	"OFMT":     V_OFMT,
	"OFS":      V_OFS,
	"ORS":      V_ORS,
	"RLENGTH":  V_RLENGTH,
	"RS":       V_RS,
	"RSTART":   V_RSTART,
	"SUBSEP":   V_SUBSEP,
}

// SpecialVarIndex returns the "index" of the special variable, or 0
// if it's not a special variable.
func SpecialVarIndex(name string) int {
	return specialVars[name]
}

var specialVarNames = [...]string{
	V_ILLEGAL:  "ILLEGAL",
	V_ARGC:     "ARGC",
	V_CONVFMT:  "CONVFMT",
	V_FILENAME: "FILENAME",
	V_FNR:      "FNR",
	V_FS:       "FS",
	V_NF:       "NF",
	V_NR:       "NR",
	V_OFMT:     "OFMT",
	V_OFS:      "OFS",
	V_ORS:      "ORS",
	V_RLENGTH:  "RLENGTH",
	V_RS:       "RS",
	V_RSTART:   "RSTART",
	V_SUBSEP:   "SUBSEP",
}

// SpecialVarName returns the name of the special variable by index.
func SpecialVarName(index int) string {
	if index > 0 && index < len(specialVarNames) {
		return specialVarNames[index]
	}
	return fmt.Sprintf("<unknown special var %d>", index)
}
