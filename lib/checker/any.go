package checker

import "net/http"

// Any matches when one of its members does. The first error stops the scan.
type Any []Interface

func (a Any) Check(r *http.Request) (bool, error) {
	for _, c := range a {
		match, err := c.Check(r)
		if err != nil {
			return match, err
		}
		if match {
			return true, nil // match
		}
	}

	return false, nil // no match
}
