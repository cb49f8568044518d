// Package domain models the address lookup chain: device coordinates are
// reverse-geocoded to a postal code, and the postal code is looked up to a
// structured address.
//
// # Upstream Services
//
// Reverse geocoding uses OpenStreetMap Nominatim:
//
//	GET https://nominatim.openstreetmap.org/reverse?lat=-23.561&lon=-46.656&format=json
//	→ {"address": {"postcode": "01310-100", "road": "Avenida Paulista", ...}}
//
// The postcode field is optional. Rural and maritime coordinates regularly
// resolve to a region without one, which surfaces as [ErrPostalCodeNotFound].
//
// Postal lookup uses ViaCEP, which only knows Brazilian CEPs:
//
//	GET https://viacep.com.br/ws/01310100/json/
//	→ {"cep": "01310-100", "logradouro": "Avenida Paulista", "bairro": "Bela Vista",
//	   "localidade": "São Paulo", "uf": "SP"}
//
// Unknown CEPs come back as 200 with {"erro": true}, which surfaces as
// [ErrAddressNotFound].
//
// # CEP Format
//
// A CEP is eight digits, conventionally written "NNNNN-NNN". Nominatim returns
// whatever OSM contributors typed, so the code is normalized to its digits
// with [NormalizePostalCode] before the lookup.
//
// # Messages
//
// Every failure of the chain maps to one flat user-facing string via
// [Message]. There is no structured error payload beyond that.
package domain
