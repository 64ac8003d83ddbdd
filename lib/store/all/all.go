// Package all imports all of the store backends so they register themselves.
package all

import (
	_ "github.com/mavryk-network/mavryk-faucet-backend/lib/store/bbolt"
	_ "github.com/mavryk-network/mavryk-faucet-backend/lib/store/memory"
	_ "github.com/mavryk-network/mavryk-faucet-backend/lib/store/valkey"
)
