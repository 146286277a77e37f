package chain

// Bridge contract methods and events.
const (
	MethodOracle         = "oracle"
	MethodSetOracle      = "setOracle"
	MethodBitcoinAddress = "bitcoinAddress"
	MethodMint           = "mint"
	MethodBurnData       = "burnData"
	MethodBurnSigned     = "burnSigned"
	MethodValidateBurn   = "validateBurn"

	EventProofSubmitted = "TransactionProofSubmitted"
	EventBurnGenerate   = "BurnGenerateTransaction"
	EventBurnValidate   = "BurnValidateTransaction"
)

// BridgeABI is the part of the bridge contract interface the oracle uses.
const BridgeABI = `[
	{"type":"function","name":"oracle","stateMutability":"view","inputs":[],
	 "outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"setOracle","stateMutability":"nonpayable",
	 "inputs":[{"name":"newOracle","type":"address"}],"outputs":[]},
	{"type":"function","name":"bitcoinAddress","stateMutability":"view","inputs":[],
	 "outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"mint","stateMutability":"nonpayable",
	 "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"},{"name":"txHash","type":"string"}],
	 "outputs":[]},
	{"type":"function","name":"burnData","stateMutability":"view",
	 "inputs":[{"name":"burnId","type":"uint256"}],
	 "outputs":[
		{"name":"user","type":"address"},
		{"name":"amount","type":"uint256"},
		{"name":"destinationAddress","type":"string"},
		{"name":"status","type":"uint8"},
		{"name":"transactionHash","type":"string"}
	 ]},
	{"type":"function","name":"burnSigned","stateMutability":"nonpayable",
	 "inputs":[{"name":"burnId","type":"uint256"},{"name":"rawTx","type":"bytes"},{"name":"txHash","type":"string"}],
	 "outputs":[]},
	{"type":"function","name":"validateBurn","stateMutability":"nonpayable",
	 "inputs":[{"name":"burnId","type":"uint256"}],"outputs":[]},
	{"type":"event","name":"TransactionProofSubmitted","anonymous":false,
	 "inputs":[
		{"name":"txHash","type":"string","indexed":false},
		{"name":"signature","type":"string","indexed":false},
		{"name":"claimant","type":"address","indexed":true}
	 ]},
	{"type":"event","name":"BurnGenerateTransaction","anonymous":false,
	 "inputs":[{"name":"burnId","type":"uint256","indexed":true}]},
	{"type":"event","name":"BurnValidateTransaction","anonymous":false,
	 "inputs":[{"name":"burnId","type":"uint256","indexed":true}]}
]`
