package schemas

// Builtin returns the schema set for the standard real-estate transaction
// document types. Critical fields are the ones a downstream closing workflow
// cannot proceed without.
func Builtin() []Schema {
	return []Schema{
		{
			Category: "deed",
			Fields: []FieldSpec{
				{Name: "grantor", Type: "string", Critical: true, Description: "Party conveying the property"},
				{Name: "grantee", Type: "string", Critical: true, Description: "Party receiving the property"},
				{Name: "legal_description", Type: "string", Critical: true, Description: "Legal description of the property"},
				{Name: "county", Type: "string", Description: "Recording county"},
				{Name: "consideration", Type: "string", Description: "Stated consideration amount"},
				{Name: "execution_date", Type: "string", Description: "Date the deed was signed"},
				{Name: "notary_state", Type: "string", Description: "State of notarization"},
			},
		},
		{
			Category: "settlement_statement",
			Fields: []FieldSpec{
				{Name: "borrower_name", Type: "string", Critical: true},
				{Name: "seller_name", Type: "string", Critical: true},
				{Name: "property_address", Type: "string", Critical: true},
				{Name: "settlement_date", Type: "string", Critical: true},
				{Name: "sale_price", Type: "string"},
				{Name: "loan_amount", Type: "string"},
				{Name: "cash_to_close", Type: "string"},
				{Name: "settlement_agent", Type: "string"},
			},
		},
		{
			Category: "promissory_note",
			Fields: []FieldSpec{
				{Name: "borrower_name", Type: "string", Critical: true},
				{Name: "lender_name", Type: "string", Critical: true},
				{Name: "principal_amount", Type: "string", Critical: true},
				{Name: "interest_rate", Type: "string", Critical: true},
				{Name: "maturity_date", Type: "string"},
				{Name: "note_date", Type: "string"},
				{Name: "monthly_payment", Type: "string"},
			},
		},
		{
			Category: "mortgage",
			Fields: []FieldSpec{
				{Name: "borrower_name", Type: "string", Critical: true},
				{Name: "lender_name", Type: "string", Critical: true},
				{Name: "loan_amount", Type: "string", Critical: true},
				{Name: "property_address", Type: "string", Critical: true},
				{Name: "recording_date", Type: "string"},
				{Name: "instrument_number", Type: "string"},
				{Name: "trustee", Type: "string"},
			},
		},
		{
			Category: "title_commitment",
			Fields: []FieldSpec{
				{Name: "commitment_number", Type: "string", Critical: true},
				{Name: "proposed_insured", Type: "string", Critical: true},
				{Name: "effective_date", Type: "string"},
				{Name: "policy_amount", Type: "string"},
				{Name: "underwriter", Type: "string"},
				{Name: "requirements", Type: "string"},
				{Name: "exceptions", Type: "string"},
			},
		},
		{
			Category: "closing_disclosure",
			Fields: []FieldSpec{
				{Name: "borrower_name", Type: "string", Critical: true},
				{Name: "closing_date", Type: "string", Critical: true},
				{Name: "loan_amount", Type: "string", Critical: true},
				{Name: "interest_rate", Type: "string"},
				{Name: "monthly_principal_interest", Type: "string"},
				{Name: "cash_to_close", Type: "string"},
				{Name: "loan_term", Type: "string"},
			},
		},
		{
			// Catch-all for pages the splitter cannot attribute. No critical
			// fields: these never block a packet on review by themselves.
			Category: "other",
			Fields: []FieldSpec{
				{Name: "document_title", Type: "string"},
				{Name: "summary", Type: "string"},
			},
		},
	}
}
