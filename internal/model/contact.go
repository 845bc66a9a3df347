package model

import "strings"

// Address is a postal address as reported by the provider.
type Address struct {
	Street     string
	City       string
	State      string
	PostalCode string
	Country    string
}

// Empty reports whether no field is set.
func (a Address) Empty() bool {
	return a.Street == "" && a.City == "" && a.State == "" && a.PostalCode == "" && a.Country == ""
}

// PrimaryEmail picks the first non-blank address, normalised to lower case.
func PrimaryEmail(addrs []string) *string {
	for _, a := range addrs {
		if a = NormalizeEmail(a); a != "" {
			return &a
		}
	}
	return nil
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// PrimaryPhone picks one phone number: mobile before landline, and among
// landlines business before home.
func PrimaryPhone(mobile string, business, home []string) *string {
	if p := strings.TrimSpace(mobile); p != "" {
		return &p
	}
	for _, list := range [][]string{business, home} {
		for _, p := range list {
			if p = strings.TrimSpace(p); p != "" {
				return &p
			}
		}
	}
	return nil
}

// PrimaryAddress picks business, then home, then other.
func PrimaryAddress(business, home, other Address) Address {
	for _, a := range []Address{business, home, other} {
		if !a.Empty() {
			return a
		}
	}
	return Address{}
}

// SetAddress copies an address into the contact's flat columns. Blank parts
// become NULL.
func (c *Contact) SetAddress(a Address) {
	c.Street = StringPtr(a.Street)
	c.City = StringPtr(a.City)
	c.State = StringPtr(a.State)
	c.PostalCode = StringPtr(a.PostalCode)
	c.Country = StringPtr(a.Country)
}
