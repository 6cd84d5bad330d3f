package annotate

import (
	"errors"
	"fmt"
)

var errNoPass = errors.New("no annotation pass for the current page; annotate first")

func indexError(index, n int) error {
	return fmt.Errorf("index %d outside 1..%d", index, n)
}
