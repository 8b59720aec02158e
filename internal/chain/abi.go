package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const erc20JSON = `[
  {"type":"event","name":"Transfer","anonymous":false,"inputs":[
    {"name":"from","type":"address","indexed":true},
    {"name":"to","type":"address","indexed":true},
    {"name":"value","type":"uint256","indexed":false}]},
  {"type":"function","name":"balanceOf","stateMutability":"view",
   "inputs":[{"name":"account","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"decimals","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

const ledgerJSON = `[
  {"type":"function","name":"creditDeposit","stateMutability":"nonpayable",
   "inputs":[{"name":"user","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[]},
  {"type":"function","name":"balances","stateMutability":"view",
   "inputs":[{"name":"","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"lockedBalances","stateMutability":"view",
   "inputs":[{"name":"","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getTotalBalance","stateMutability":"view",
   "inputs":[{"name":"user","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]}
]`

const shareJSON = `[
  {"type":"function","name":"mint","stateMutability":"nonpayable",
   "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[]},
  {"type":"function","name":"balanceOf","stateMutability":"view",
   "inputs":[{"name":"account","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]}
]`

var (
	// ERC20ABI covers the Transfer event and the read calls made on USDC.
	ERC20ABI = mustParse(erc20JSON)
	// LedgerABI is the on-chain balance ledger owned by the bridge operator.
	LedgerABI = mustParse(ledgerJSON)
	// ShareABI is the YES/NO outcome share token.
	ShareABI = mustParse(shareJSON)

	// TransferTopic is keccak256("Transfer(address,address,uint256)").
	TransferTopic = ethcrypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("chain: bad ABI definition: " + err.Error())
	}
	return parsed
}

// AddressTopic left-pads an address into a 32-byte log topic.
func AddressTopic(a common.Address) common.Hash {
	return common.BytesToHash(common.LeftPadBytes(a.Bytes(), 32))
}
