package metric

import "strconv"

// signalTypeLabel formats a numeric signal type as a Prometheus label value.
func signalTypeLabel(t uint16) string {
	return "0x" + strconv.FormatUint(uint64(t), 16)
}

// ruleIDLabel formats a rule id as a Prometheus label value.
func ruleIDLabel(id int64) string {
	return strconv.FormatInt(id, 10)
}
