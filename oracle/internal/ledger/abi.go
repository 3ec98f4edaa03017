package ledger

// ContractABI is the subset of the claims contract the oracle uses.
const ContractABI = `[
  {
    "type": "event",
    "name": "ClaimSubmitted",
    "anonymous": false,
    "inputs": [
      {"name": "claimId", "type": "string", "indexed": false},
      {"name": "policyId", "type": "string", "indexed": false},
      {"name": "userId", "type": "string", "indexed": false},
      {"name": "description", "type": "string", "indexed": false},
      {"name": "evidenceReferences", "type": "string[]", "indexed": false},
      {"name": "reportReference", "type": "string", "indexed": false},
      {"name": "severity", "type": "uint256", "indexed": false},
      {"name": "timestamp", "type": "uint256", "indexed": false}
    ]
  },
  {
    "type": "function",
    "name": "evaluateClaim",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "claimId", "type": "string"},
      {"name": "approved", "type": "bool"},
      {"name": "verified", "type": "bool"},
      {"name": "payoutAmount", "type": "uint256"}
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "getClaim",
    "stateMutability": "view",
    "inputs": [
      {"name": "claimId", "type": "string"}
    ],
    "outputs": [
      {
        "name": "",
        "type": "tuple",
        "components": [
          {"name": "claimId", "type": "string"},
          {"name": "policyId", "type": "string"},
          {"name": "userId", "type": "string"},
          {"name": "description", "type": "string"},
          {"name": "evidenceReferences", "type": "string[]"},
          {"name": "reportReference", "type": "string"},
          {"name": "severity", "type": "uint256"},
          {"name": "status", "type": "uint8"},
          {"name": "verified", "type": "bool"},
          {"name": "payoutAmount", "type": "uint256"},
          {"name": "submittedAt", "type": "uint256"},
          {"name": "updatedAt", "type": "uint256"}
        ]
      }
    ]
  }
]`
