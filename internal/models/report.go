package models

import "fmt"

// ReportKind is one of the fixed derived-artifact types.
type ReportKind string

const (
	ReportExtractSummary  ReportKind = "extract-summary"
	ReportBillOfMaterials ReportKind = "bill-of-materials"
	ReportCompliance      ReportKind = "compliance"
)

// ReportKinds lists every supported kind in display order.
var ReportKinds = []ReportKind{ReportExtractSummary, ReportBillOfMaterials, ReportCompliance}

// ParseReportKind validates a kind received from a client.
func ParseReportKind(s string) (ReportKind, error) {
	for _, k := range ReportKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown report kind %q", s)
}

// Title is the heading used on the rendered artifact.
func (k ReportKind) Title() string {
	switch k {
	case ReportExtractSummary:
		return "Document Extraction Summary"
	case ReportBillOfMaterials:
		return "Bill of Materials"
	case ReportCompliance:
		return "Compliance Report"
	default:
		return "Report"
	}
}
