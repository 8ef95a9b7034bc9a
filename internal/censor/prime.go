package censor

// The blur path requires a prime block count. This is carried over from
// the detector's reference behaviour and has not been derived here.

func isPrime(n int) bool {
	if n < 2 {
		return false
	}
	if n%2 == 0 {
		return n == 2
	}
	for d := 3; d*d <= n; d += 2 {
		if n%d == 0 {
			return false
		}
	}
	return true
}

// nextPrime returns the smallest prime >= n.
func nextPrime(n int) int {
	if n <= 2 {
		return 2
	}
	for !isPrime(n) {
		n++
	}
	return n
}
