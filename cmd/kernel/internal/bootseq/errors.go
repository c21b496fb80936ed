package bootseq

import "fmt"

var errBootSelfTest = fmt.Errorf("boot self-test failure")

func errFileNotFound(path string) error {
	return fmt.Errorf("kernel: %s not found", path)
}
