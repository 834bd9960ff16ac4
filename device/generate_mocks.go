//go:generate mockgen -destination=../mocks/mock_backing.go -package=mocks github.com/sarchlab/pmbd/region Backing

package device
