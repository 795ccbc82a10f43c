package clob

import (
	"crypto/ecdsa"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// L1 auth signs a fixed ClobAuth attestation with the wallet key. The CLOB
// recovers the signer address from it when issuing or deriving api keys.
const clobAuthMessage = "This message attests that I control the given wallet"

var (
	clobAuthDomainTypeHash = crypto.Keccak256Hash([]byte("EIP712Domain(string name,string version,uint256 chainId)"))
	clobAuthNameHash       = crypto.Keccak256Hash([]byte("ClobAuthDomain"))
	clobAuthVersionHash    = crypto.Keccak256Hash([]byte("1"))
	clobAuthTypeHash       = crypto.Keccak256Hash([]byte("ClobAuth(address address,string timestamp,uint256 nonce,string message)"))

	bytes32Ty = mustABIType("bytes32")
	addressTy = mustABIType("address")
	uint256Ty = mustABIType("uint256")
)

func mustABIType(t string) abi.Type {
	ty, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return ty
}

// hashStruct abi-packs the values and returns keccak256 of the encoding.
func hashStruct(types []abi.Type, values ...any) (common.Hash, error) {
	args := make(abi.Arguments, len(types))
	for i, ty := range types {
		args[i] = abi.Argument{Type: ty}
	}
	encoded, err := args.Pack(values...)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(encoded), nil
}

func clobAuthDomainSeparator(chainID int64) (common.Hash, error) {
	return hashStruct(
		[]abi.Type{bytes32Ty, bytes32Ty, bytes32Ty, uint256Ty},
		clobAuthDomainTypeHash,
		clobAuthNameHash,
		clobAuthVersionHash,
		big.NewInt(chainID),
	)
}

func buildClobEip712Signature(privateKey *ecdsa.PrivateKey, signer common.Address, chainID int64, timestamp int64, nonce uint64) (string, error) {
	domainSeparator, err := clobAuthDomainSeparator(chainID)
	if err != nil {
		return "", err
	}

	// EIP712 encodes string members as keccak256 of their bytes.
	structHash, err := hashStruct(
		[]abi.Type{bytes32Ty, addressTy, bytes32Ty, uint256Ty, bytes32Ty},
		clobAuthTypeHash,
		signer,
		crypto.Keccak256Hash([]byte(strconv.FormatInt(timestamp, 10))),
		new(big.Int).SetUint64(nonce),
		crypto.Keccak256Hash([]byte(clobAuthMessage)),
	)
	if err != nil {
		return "", err
	}

	digest := crypto.Keccak256Hash([]byte{0x19, 0x01}, domainSeparator.Bytes(), structHash.Bytes())

	sig, err := crypto.Sign(digest.Bytes(), privateKey)
	if err != nil {
		return "", err
	}
	sig[64] += 27
	return "0x" + common.Bytes2Hex(sig), nil
}
