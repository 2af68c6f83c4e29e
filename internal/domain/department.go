package domain

import "strings"

// Department partitions operator eligibility.
type Department string

const (
	DepartmentPersonal   Department = "personal"
	DepartmentFiscal     Department = "fiscal"
	DepartmentAccounting Department = "accounting"
	DepartmentFinancial  Department = "financial"
)

// Departments lists the supported departments in menu order.
var Departments = []Department{
	DepartmentPersonal,
	DepartmentFiscal,
	DepartmentAccounting,
	DepartmentFinancial,
}

// legacy labels emitted by older chat flows
var departmentAliases = map[string]Department{
	"pessoal":    DepartmentPersonal,
	"contabil":   DepartmentAccounting,
	"contábil":   DepartmentAccounting,
	"financeiro": DepartmentFinancial,
}

// ParseDepartment resolves a department name case-insensitively.
func ParseDepartment(raw string) (Department, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	for _, dept := range Departments {
		if string(dept) == key {
			return dept, true
		}
	}
	if dept, ok := departmentAliases[key]; ok {
		return dept, true
	}
	return "", false
}

// Valid reports whether d is one of the supported departments.
func (d Department) Valid() bool {
	for _, dept := range Departments {
		if dept == d {
			return true
		}
	}
	return false
}
